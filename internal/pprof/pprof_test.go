package pprof

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/whipgate/internal/logger"
)

type testParent struct{}

func (testParent) Log(_ logger.Level, _ string, _ ...interface{}) {
}

func TestPPROF(t *testing.T) {
	pp := &PPROF{
		Address:     "127.0.0.1:0",
		ReadTimeout: 10 * time.Second,
		Parent:      testParent{},
	}
	require.NoError(t, pp.Initialize())
	defer pp.Close()

	res, err := http.Get("http://" + pp.httpServer.BoundAddress() + "/debug/pprof/cmdline")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, byts)
}
