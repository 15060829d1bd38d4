package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobValidate(t *testing.T) {
	t.Parallel()

	valid := Job{RunID: "r", StoreID: "s", URL: "https://x", CollectedAt: "2024-01-01T00:00:00Z"}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.URL = " "
	require.ErrorContains(t, missing.Validate(), "url")

	missing = valid
	missing.RunID = ""
	require.ErrorContains(t, missing.Validate(), "run_id")
}
