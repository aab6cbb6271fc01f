package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thejuampi/topicbus/broker/internal/testutil"
)

func adminGet(t *testing.T, handler http.Handler, path string, into any) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	if into != nil {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), into))
	}
	return recorder
}

func TestAdminEndpoints(t *testing.T) {
	server := NewServer(Config{}, zaptest.NewLogger(t))
	conn := testutil.NewConn("10.0.0.9:4000", "127.0.0.1:1999")
	session := newSession(conn, DefaultWriteTimeout)
	server.dispatcher.Dispatch(session, "CONNECT 1999 Erin 5")
	server.dispatcher.Dispatch(session, "SUBSCRIBE news")
	server.dispatcher.Dispatch(session, "SUBSCRIBE sports")
	server.dispatcher.Dispatch(session, "PUBLISH news hi")

	handler := server.AdminHandler()

	var clients []ClientInfo
	adminGet(t, handler, "/admin/clients", &clients)
	require.Len(t, clients, 1)
	require.Equal(t, "Erin", clients[0].Name)
	require.Equal(t, 5, clients[0].PID)
	require.Equal(t, "10.0.0.9", clients[0].IP)

	var topics []TopicInfo
	adminGet(t, handler, "/admin/topics", &topics)
	require.Equal(t, []TopicInfo{{Name: "news", Subscribers: 1}, {Name: "sports", Subscribers: 1}}, topics)

	var status struct {
		Server  string        `json:"server"`
		Clients int           `json:"clients"`
		Stats   StatsSnapshot `json:"stats"`
	}
	adminGet(t, handler, "/admin/status", &status)
	require.Equal(t, "topicbus", status.Server)
	require.Equal(t, 1, status.Clients)
	require.Equal(t, uint64(1), status.Stats.PublishIn)
	require.Equal(t, uint64(1), status.Stats.DeliveriesOut)
}

func TestAdminRejectsWrites(t *testing.T) {
	server := NewServer(Config{}, zaptest.NewLogger(t))
	recorder := httptest.NewRecorder()
	server.AdminHandler().ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/admin/clients", nil))
	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	require.Equal(t, http.MethodGet, recorder.Header().Get("Allow"))
}
