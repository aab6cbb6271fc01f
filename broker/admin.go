package broker

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Admin endpoints, all read-only:
//
//	GET /admin/status   server uptime and counters
//	GET /admin/clients  registered clients
//	GET /admin/topics   topics and subscriber counts

// AdminHandler returns an http.Handler serving the admin API.
func (server *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", server.handleAdminStatus)
	mux.HandleFunc("/admin/clients", server.handleAdminClients)
	mux.HandleFunc("/admin/topics", server.handleAdminTopics)
	return mux
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (server *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResponse(w, map[string]any{
		"server":     "topicbus",
		"started_at": server.startedAt.UTC().Format(time.RFC3339),
		"uptime":     time.Since(server.startedAt).Round(time.Second).String(),
		"clients":    server.clients.Len(),
		"goroutines": runtime.NumGoroutine(),
		"stats":      server.stats.Snapshot(),
	})
}

func (server *Server) handleAdminClients(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResponse(w, server.clients.Snapshot())
}

func (server *Server) handleAdminTopics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResponse(w, server.topics.Topics())
}
