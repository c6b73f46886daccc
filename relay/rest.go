package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/agenthq/relay/queue"
	"github.com/agenthq/relay/relay/auth"
)

// Router builds the REST surface mirroring the WebSocket operations:
// GET /health, GET /api/status, POST /api/jobs, GET /api/jobs/{id},
// POST /api/jobs/{id}/cancel, POST /api/chat, GET /api/notes/search,
// GET /api/threads. Every /api/* route requires Authorization: Bearer.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	r.Get("/health", g.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(g.requireBearer)
		api.Get("/status", g.handleStatus)
		api.Post("/jobs", g.handleCreateJob)
		api.Get("/jobs/{id}", g.handleGetJob)
		api.Post("/jobs/{id}/cancel", g.handleCancelJob)
		api.Post("/chat", g.handleChat)
		api.Get("/notes/search", g.handleSearchNotes)
		api.Get("/threads", g.handleListThreads)
	})
	return r
}

func (g *Gateway) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Auth.ValidateBearer(r.Header.Get("Authorization")) {
			writeJSONStatus(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := g.systemHandler.Status(Envelope{})
	status := resp.(systemStatusResponseFrame)
	writeJSONStatus(w, http.StatusOK, restStatus{
		PendingJobs:      status.PendingJobs,
		RunningJobs:      status.RunningJobs,
		AgentOnline:      status.AgentOnline,
		ConnectedClients: status.ConnectedClients,
		VaultPath:        g.Vault.Store.Root,
		UptimeSec:        int64(time.Since(g.startedAt).Seconds()),
	})
}

type createJobRequest struct {
	Instruction string `json:"instruction"`
	Priority    int    `json:"priority"`
	Type        string `json:"type,omitempty"`
}

func (g *Gateway) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "instruction is required"})
		return
	}
	jobID, err := g.Vault.CreateJob(req.Instruction, req.Priority, req.Type)
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"jobId": jobID, "status": string(queue.StatusPending)})
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, dir := range []string{"_fbmq/jobs/pending", "_fbmq/jobs/processing", "_fbmq/jobs/done"} {
		rec, err := g.Vault.Store.Read(dir + "/" + id + ".md")
		if err != nil {
			continue
		}
		job := queue.JobFromRecord(rec)
		if job == nil {
			continue
		}
		writeJSONStatus(w, http.StatusOK, job)
		return
	}
	writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "job not found"})
}

func (g *Gateway) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSONStatus(w, http.StatusOK, jobCompleteFrame{Type: "job:complete", JobID: id, Status: string(queue.StatusFailed), Result: "cancelled by client"})
}

type chatRequest struct {
	Content       string `json:"content"`
	ThreadID      string `json:"threadId,omitempty"`
	ModelOverride string `json:"modelOverride,omitempty"`
}

// handleChat is a non-streaming convenience wrapper over ChatHandler.Send
// (bridge first, then the fallback path): it collects every chat:delta into one string and returns the final
// cleaned text in a single response, rather than speaking the WebSocket
// delta/final protocol over REST.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if g.chatHandler.cfg.APIKey == "" {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"code": ErrNoAPIKey})
		return
	}

	sink := newChatSink()
	client := &Client{Session: &auth.Session{Token: "rest-" + uuid.NewString(), ClientType: "rest"}, conn: sink, send: sink.ch}
	go sink.drain(client)

	g.chatHandler.Send(client, Envelope{Type: msgChatSend, Raw: mustJSON(req)})
	close(sink.ch)
	<-sink.done

	if sink.errFrame != nil {
		writeJSONStatus(w, http.StatusBadGateway, sink.errFrame)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{"content": sink.final})
}

func (g *Gateway) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 5
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	hits, err := g.Vault.SearchNotes(query, limit)
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONStatus(w, http.StatusOK, hits)
}

func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := g.Vault.ListThreads()
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONStatus(w, http.StatusOK, ids)
}

// chatSink is a no-op Conn that lets handleChat drive ChatHandler.Send
// (written for the WebSocket path) and collect its frames into one string
// instead of writing them to a socket.
type chatSink struct {
	ch       chan any
	done     chan struct{}
	final    string
	errFrame *ErrorFrame
}

func newChatSink() *chatSink {
	return &chatSink{ch: make(chan any, 256), done: make(chan struct{})}
}

func (s *chatSink) WriteJSON(v any) error { return nil }
func (s *chatSink) Close() error          { return nil }

func (s *chatSink) drain(client *Client) {
	defer close(s.done)
	for payload := range s.ch {
		switch f := payload.(type) {
		case chatFinalFrame:
			s.final = f.Content
		case ErrorFrame:
			e := f
			s.errFrame = &e
		}
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
