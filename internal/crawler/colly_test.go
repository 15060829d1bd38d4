package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticCrawlerFollowsRedirectAndFetchesReviews(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/p/entry/place/4242", http.StatusFound)
	})
	mux.HandleFunc("/p/entry/place/4242", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>할매국밥</title></head><body>{"roadAddress":"부산 동구 중앙대로 1"}</body></html>`)
	})
	mux.HandleFunc("/restaurant/4242/review/visitor", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><ul>
<li>국물이 진하고 고기가 많이 들어 있어서 든든했어요</li>
<li>새벽에도 열어서 해장하러 자주 오는 국밥집입니다</li>
</ul></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewStatic(StaticConfig{UserAgent: "test", MobileBaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), srv.URL+"/short")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/p/entry/place/4242", res.FinalURL)
	require.Equal(t, "4242", res.PlaceID)
	require.Equal(t, "할매국밥", res.Name)
	require.Equal(t, "부산 동구 중앙대로 1", res.Address)
	require.Len(t, res.Reviews, 2)
	require.Contains(t, res.RawHTML, "국밥집")
}

func TestStaticCrawlerHTTPErrorIsAttemptError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewStatic(StaticConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), srv.URL)
	var ae *AttemptError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, srv.URL, ae.URL)
}
