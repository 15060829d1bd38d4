package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestHeadlessCrawlerRendersDynamicContent(t *testing.T) {
	if !chromeAvailable() {
		t.Skip("chrome not installed")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>골목식당</title></head><body><ul id="r"></ul>
<script>document.getElementById('r').innerHTML = '<li>늦게 렌더링되는 리뷰 텍스트가 여기에 충분히 길게 들어갑니다</li>';</script></body></html>`)
	}))
	defer srv.Close()

	c := NewHeadless(HeadlessConfig{NavTimeout: 20 * time.Second, Settle: 100 * time.Millisecond, MaxParallel: 1}, nil, nil)
	defer c.Close()

	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("chrome failed to start: %v", err)
	}
	require.Equal(t, "골목식당", res.Name)
	require.Len(t, res.Reviews, 1)
}
