package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/whipgate/internal/ingest"
	"github.com/bluenviron/whipgate/internal/logger"
	"github.com/bluenviron/whipgate/internal/protocols/whip"
	"github.com/bluenviron/whipgate/internal/registry"
)

type testParent struct{}

func (testParent) Log(_ logger.Level, _ string, _ ...interface{}) {
}

func (testParent) OnEndpointInactive(_ string) {
}

type mockHandle struct{}

func (mockHandle) ID() uint64 { return 1 }

func (mockHandle) Configure(_ context.Context, _ interface{}, _ string) (string, uint64, error) {
	return "v=0\r\n", 1, nil
}

func (mockHandle) Trickle(_ context.Context, _ []whip.Candidate) error { return nil }

func (mockHandle) StartForward(_ context.Context, _ interface{}) error { return nil }

func (mockHandle) Detach(_ context.Context) error { return nil }

type mockBackend struct{}

func (mockBackend) Connected() bool { return true }

func (mockBackend) Attach(_ context.Context) (ingest.BackendHandle, error) {
	return mockHandle{}, nil
}

func setup(t *testing.T, token string) *API {
	var reg registry.Registry
	reg.Initialize()

	c := &ingest.Controller{
		Backend:  mockBackend{},
		Registry: &reg,
		Parent:   testParent{},
	}
	c.Initialize()

	a := &API{
		Version:      "v0.0.0",
		Started:      time.Now(),
		Address:      "127.0.0.1:0",
		AllowOrigin:  "*",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Token:        token,
		Controller:   c,
		Registry:     &reg,
		Parent:       testParent{},
	}
	require.NoError(t, a.Initialize())
	t.Cleanup(a.Close)

	return a
}

func httpRequest(t *testing.T, method string, url string, token string,
	body interface{}, out interface{},
) int {
	var rd io.Reader
	if body != nil {
		byts, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(byts)
	}

	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}

	return res.StatusCode
}

func TestInfo(t *testing.T) {
	a := setup(t, "")
	u := "http://" + a.httpServer.BoundAddress()

	var info apiInfo
	code := httpRequest(t, http.MethodGet, u+"/v1/info", "", nil, &info)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "v0.0.0", info.Version)
}

func TestEndpointsAddGetList(t *testing.T) {
	a := setup(t, "")
	u := "http://" + a.httpServer.BoundAddress()

	var info registry.Info
	code := httpRequest(t, http.MethodPost, u+"/v1/endpoints/add/abc", "", map[string]interface{}{
		"room":  1234,
		"token": "verysecret",
	}, &info)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "abc", info.ID)
	require.Equal(t, uint64(1234), info.Room)
	require.Equal(t, "WHIP Publisher 1234", info.Label)
	require.Equal(t, true, info.HasToken)
	require.Equal(t, "idle", info.State)

	// credentials are never echoed
	var raw map[string]interface{}
	code = httpRequest(t, http.MethodGet, u+"/v1/endpoints/get/abc", "", nil, &raw)
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, raw, "token")
	require.NotContains(t, raw, "jwtSecret")

	var list apiEndpointList
	code = httpRequest(t, http.MethodGet, u+"/v1/endpoints/list", "", nil, &list)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, list.ItemCount)
	require.Equal(t, "abc", list.Items[0].ID)
}

func TestEndpointsAddErrors(t *testing.T) {
	a := setup(t, "")
	u := "http://" + a.httpServer.BoundAddress()

	// missing room
	code := httpRequest(t, http.MethodPost, u+"/v1/endpoints/add/abc", "",
		map[string]interface{}{}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// duplicate
	code = httpRequest(t, http.MethodPost, u+"/v1/endpoints/add/abc", "",
		map[string]interface{}{"room": 1}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = httpRequest(t, http.MethodPost, u+"/v1/endpoints/add/abc", "",
		map[string]interface{}{"room": 1}, nil)
	require.Equal(t, http.StatusConflict, code)
}

func TestEndpointsDelete(t *testing.T) {
	a := setup(t, "")
	u := "http://" + a.httpServer.BoundAddress()

	code := httpRequest(t, http.MethodPost, u+"/v1/endpoints/add/abc", "",
		map[string]interface{}{"room": 1}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = httpRequest(t, http.MethodDelete, u+"/v1/endpoints/delete/abc", "", nil, nil)
	require.Equal(t, http.StatusOK, code)

	code = httpRequest(t, http.MethodDelete, u+"/v1/endpoints/delete/abc", "", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAuth(t *testing.T) {
	a := setup(t, "admintoken")
	u := "http://" + a.httpServer.BoundAddress()

	code := httpRequest(t, http.MethodGet, u+"/v1/endpoints/list", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code = httpRequest(t, http.MethodGet, u+"/v1/endpoints/list", "wrong", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code = httpRequest(t, http.MethodGet, u+"/v1/endpoints/list", "admintoken", nil, nil)
	require.Equal(t, http.StatusOK, code)
}
