// Package server exposes the answering engine and document uploads over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/rag"
)

const DefaultMaxUploadBytes = 32 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Answerer answers one question.
type Answerer interface {
	Answer(ctx context.Context, query string) (*models.Answer, error)
}

// Rebuilder rebuilds the served index from the documents directory.
type Rebuilder interface {
	Rebuild(ctx context.Context) (rag.BuildStats, error)
	State() rag.State
}

type ServerConfig struct {
	DocumentsDir   string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Server struct {
	config  ServerConfig
	engine  Answerer
	indexer Rebuilder
	logger  *zap.Logger
}

type askRequest struct {
	Query string `json:"query"`
}

type uploadResponse struct {
	Message   string `json:"message"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Skipped   int    `json:"skipped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(engine Answerer, indexer Rebuilder, config ServerConfig) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		config:  config,
		engine:  engine,
		indexer: indexer,
		logger:  logger.OrNop(config.Logger).Named("server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !loader.Supported(name) {
		writeError(w, http.StatusBadRequest, "only .pdf and .md files are accepted")
		return
	}

	if err := s.store(file, name); err != nil {
		s.logger.Error("failed to store upload", zap.String("file", name), zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store the uploaded file")
		return
	}

	stats, err := s.indexer.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild after upload failed", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to rebuild index: %v", err))
		return
	}

	message := fmt.Sprintf("%s uploaded and indexed", name)
	if stats.Skipped > 0 {
		message = fmt.Sprintf("%s uploaded, %d unreadable file(s) were skipped while indexing", name, stats.Skipped)
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:   message,
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Skipped:   stats.Skipped,
	})
}

// store writes src under a temporary name in the documents directory and renames it into
// place, so a rebuild never reads a partial upload.
func (s *Server) store(src io.Reader, name string) error {
	if err := os.MkdirAll(s.config.DocumentsDir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.config.DocumentsDir, ".upload-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.config.DocumentsDir, name))
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	answer, err := s.engine.Answer(r.Context(), req.Query)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("ask failed", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		// Messages are handled in order; a connection has a single writer.
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "ask" {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
		return
	}

	s.sendMessage(conn, Message{Type: "status", Content: "Searching documents..."})

	answer, err := s.engine.Answer(ctx, msg.Content)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: err.Error()})
		return
	}
	s.sendMessage(conn, Message{Type: "response", Content: answer.Text, Data: answer.Sources})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("failed to send websocket message", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"index":  s.indexer.State().String(),
	})
}

func statusFor(err error) int {
	var authErr *llm.AuthenticationError
	var genErr *llm.GenerationError
	switch {
	case errors.Is(err, rag.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.As(err, &authErr), errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
