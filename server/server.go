// Package server exposes the chat over a websocket plus a small REST surface
// for document management, and serves the embedded chat page.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/pkg/llm"
	"github.com/avass/docq/pkg/loader"
	"github.com/avass/docq/pkg/logging"
	"github.com/avass/docq/pkg/memory"
	"github.com/avass/docq/pkg/rag"
	"github.com/avass/docq/pkg/scraper"
)

//go:embed static
var staticFS embed.FS

const defaultMaxUploadBytes = 32 << 20

type Config struct {
	Addr string
	// Streaming controls whether answers are sent as stream fragments or as
	// one response message.
	Streaming       bool
	MaxUploadBytes  int64
	ScrapeDepth     int
	ScrapeRateLimit float64
}

// Message is the websocket envelope, both directions. Provider, APIKey and
// Model ride on chat messages so each question can select its own backend.
type Message struct {
	Type     string      `json:"type"`
	Content  string      `json:"content"`
	Provider string      `json:"provider,omitempty"`
	APIKey   string      `json:"api_key,omitempty"`
	Model    string      `json:"model,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

type Server struct {
	config   Config
	system   *rag.System
	files    *loader.FileLoader
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func New(config Config, system *rag.System, files *loader.FileLoader, logger logging.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if files == nil {
		files = loader.New(logger)
	}

	return &Server{
		config: config,
		system: system,
		files:  files,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(static)))

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("DELETE /api/documents", s.handleClearDocuments)
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Messages are handled sequentially per connection; gorilla conns do not
	// allow concurrent writers.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}

		switch msg.Type {
		case "chat":
			s.handleChat(r.Context(), conn, msg)
		case "clear":
			s.system.ClearHistory()
			s.send(conn, Message{Type: "status", Content: "Conversation cleared"})
		default:
			s.send(conn, Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (s *Server) handleChat(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Content == "" {
		s.send(conn, Message{Type: "error", Content: "empty question"})
		return
	}

	s.send(conn, Message{Type: "status", Content: "Searching documents..."})

	req := rag.AskRequest{
		Query:    msg.Content,
		Provider: llm.Provider(msg.Provider),
		APIKey:   msg.APIKey,
		Model:    msg.Model,
	}
	if s.config.Streaming {
		req.OnChunk = func(chunk string) {
			s.send(conn, Message{Type: "stream", Content: chunk})
		}
	}

	answer, err := s.system.Ask(ctx, req)
	if err != nil {
		s.send(conn, Message{Type: "error", Content: userFacingError(err)})
		return
	}

	s.send(conn, Message{
		Type:    "response",
		Content: answer.Text,
		Data: map[string]interface{}{
			"sources": answer.Sources,
			"gated":   answer.Gated,
		},
	})
}

// userFacingError maps known failures to messages safe to show in the chat.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		return "No API key configured for the selected provider. Paste one in the sidebar."
	case errors.Is(err, llm.ErrUnknownProvider):
		return "Unknown provider selected."
	case errors.Is(err, memory.ErrQuestionTooLong):
		return "That question is too long. Please shorten it."
	default:
		return err.Error()
	}
}

func (s *Server) send(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("no files in upload"))
		return
	}

	var docs []struct {
		Name   string `json:"name"`
		Chunks int    `json:"chunks"`
	}
	total := 0

	for _, header := range files {
		if !loader.Supported(header.Filename) {
			s.writeError(w, http.StatusUnsupportedMediaType,
				fmt.Errorf("%w: %s", loader.ErrUnsupportedType, header.Filename))
			return
		}

		f, err := header.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		doc, err := s.files.Drain(r.Context(), header.Filename, f)
		f.Close()
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		count, err := s.system.Ingest(r.Context(), []models.Document{doc})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}

		docs = append(docs, struct {
			Name   string `json:"name"`
			Chunks int    `json:"chunks"`
		}{Name: doc.Name, Chunks: count})
		total += count
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"documents": docs,
		"chunks":    total,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.system.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.system.DeleteDocument(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.system.ClearDocuments(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		MaxDepth int    `json:"max_depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	depth := req.MaxDepth
	if depth == 0 {
		depth = s.config.ScrapeDepth
	}

	sc, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:   req.URL,
		MaxDepth:  depth,
		RateLimit: s.config.ScrapeRateLimit,
		Logger:    s.logger,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	docs, err := sc.Scrape(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	count, err := s.system.Ingest(r.Context(), docs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"pages":  len(docs),
		"chunks": count,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	transcript := s.system.Transcript()

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="chat_history.md"`)
	fmt.Fprintf(w, "# Chat History\n\n%s\n", transcript)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.system.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.system.ChunkCount(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chunks": count,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
