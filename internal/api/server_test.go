package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	state string
}

func (f *fakeStatus) Status() map[string]interface{} {
	return map[string]interface{}{"readerState": f.state}
}

func newTestServer(status StatusSource) (*Server, *domain.ReadingStore) {
	cfg := config.DefaultConfig()
	store := domain.NewReadingStore()
	return NewServer(cfg, store, status), store
}

func doRequest(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	recorder := httptest.NewRecorder()
	server.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandleStatus(t *testing.T) {
	server, store := newTestServer(&fakeStatus{state: "Waiting"})
	store.SetValue("Energy Consumed", "1.8.0", "kWh", 123.456)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, float64(1), status["readingCount"])
	assert.Equal(t, "Waiting", status["readerState"])
	assert.NotEmpty(t, status["uptime"])
}

func TestHandleStatusWithoutStatusSource(t *testing.T) {
	server, _ := newTestServer(nil)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, recorder.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.NotContains(t, status, "readerState")
}

func TestHandleListReadings(t *testing.T) {
	server, store := newTestServer(nil)
	store.SetValue("Energy Consumed", "1.8.0", "kWh", 123.456)
	store.SetText("Meter ID", "/ISk5\\2MT382-1000")

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/readings")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Readings []domain.Reading `json:"readings"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	assert.Len(t, response.Readings, 2)
}

func TestHandleListReadingsEmpty(t *testing.T) {
	server, _ := newTestServer(nil)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/readings")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 0, response.Count)
}

func TestHandleGetReading(t *testing.T) {
	server, store := newTestServer(nil)
	store.SetValue("Power", "1.7.0", "kW", 1.25)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/readings/Power")
	require.Equal(t, http.StatusOK, recorder.Code)

	var reading domain.Reading
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reading))
	assert.Equal(t, "Power", reading.Name)
	assert.Equal(t, "1.7.0", reading.Obis)
	assert.Equal(t, 1.25, reading.Value)
	assert.Equal(t, "kW", reading.Unit)
}

func TestHandleGetReadingNotFound(t *testing.T) {
	server, _ := newTestServer(nil)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/readings/Unknown")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "Reading not found", response["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(nil)

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/readings")
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestStartAndStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0

	server := NewServer(cfg, domain.NewReadingStore(), nil)
	ctx := context.Background()

	require.NoError(t, server.Start(ctx))
	require.NoError(t, server.Stop(ctx))
}
