package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameInfo struct {
	Frame int64 `json:"frame"`
	Stars int   `json:"stars"`
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"frame": 12, "stars": 40}`)

	var got frameInfo
	require.NoError(t, GetJSON(context.Background(), mock, "http://sky.local/api/sky", &got))
	assert.Equal(t, frameInfo{Frame: 12, Stars: 40}, got)
	require.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, http.MethodGet, mock.Requests[0].Method)
	assert.Equal(t, "application/json", mock.Requests[0].Header.Get("Accept"))
}

func TestGetJSONStatusError(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusNotFound, `{"error": "journal not configured"}`)
	mock.AddResponse(http.StatusBadGateway, `<html>`)

	var got frameInfo
	err := GetJSON(context.Background(), mock, "http://sky.local/api/sky/history", &got)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "http status 404: journal not configured", se.Error())

	err = GetJSON(context.Background(), mock, "http://sky.local/api/sky", &got)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "http status 502", se.Error())
}

func TestGetJSONTransportError(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(refused)
	assert.ErrorIs(t, GetJSON(context.Background(), mock, "http://sky.local/", &frameInfo{}), refused)

	mock = NewMockHTTPClient()
	mock.DefaultError = refused
	assert.ErrorIs(t, GetJSON(context.Background(), mock, "http://sky.local/", &frameInfo{}), refused)
}

func TestGetJSONBadBody(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `not json`)
	assert.Error(t, GetJSON(context.Background(), mock, "http://sky.local/", &frameInfo{}))
}

func TestGetJSONAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, frameInfo{Frame: 3, Stars: 9})
	}))
	defer srv.Close()

	var got frameInfo
	require.NoError(t, GetJSON(context.Background(), srv.Client(), srv.URL, &got))
	assert.Equal(t, int64(3), got.Frame)
}

func TestMockDefaultsToEmptyOK(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient()
	req, err := http.NewRequest(http.MethodGet, "http://sky.local/", nil)
	require.NoError(t, err)
	resp, err := mock.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Same(t, req, resp.Request)
}
