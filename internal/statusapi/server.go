// Package statusapi serves the daemon's operations endpoints: a health
// probe, read-only snapshots of the connection machine, the object store
// and the offline queue, and a connectivity hook through which an
// embedding host delivers online/offline signals.
package statusapi

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/conn"
	"github.com/pakhunchan/collab-board-sub000/internal/engine"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
)

// ErrInvalidInput marks a Server constructed without its required handles.
var ErrInvalidInput = errors.New("invalid input")

const maxBodyBytes = 1 << 20

// Options configures a Server. Session, Manager and Queue are required.
type Options struct {
	Session *engine.Session
	Manager *conn.Manager
	Queue   queue.Queue

	// Token, when non-empty, is the static bearer token every request
	// except the health probe must carry.
	Token string

	// Logger receives server records. Nil selects slog.Default().
	Logger *slog.Logger
}

// Server is an http.Handler exposing the daemon's ops surface.
type Server struct {
	session *engine.Session
	manager *conn.Manager
	queue   queue.Queue
	token   string
	logger  *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Session == nil:
		return nil, fmt.Errorf("%w: session is required", ErrInvalidInput)
	case opts.Manager == nil:
		return nil, fmt.Errorf("%w: manager is required", ErrInvalidInput)
	case opts.Queue == nil:
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidInput)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		session: opts.Session,
		manager: opts.Manager,
		queue:   opts.Queue,
		token:   opts.Token,
		logger:  logger,
	}, nil
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	BoardID           string                 `json:"boardId"`
	UserID            string                 `json:"userId"`
	State             conn.State             `json:"state"`
	Generation        int                    `json:"generation"`
	RetryCount        int                    `json:"retryCount"`
	MaxRetries        int                    `json:"maxRetries"`
	BrowserOnline     bool                   `json:"browserOnline"`
	ChannelStatuses   map[string]conn.Status `json:"channelStatuses"`
	ObjectCount       int                    `json:"objectCount"`
	QueueDepth        int                    `json:"queueDepth"`
	PendingBroadcasts int                    `json:"pendingBroadcasts"`
}

// ObjectsResponse is the body of GET /api/objects.
type ObjectsResponse struct {
	BoardID string         `json:"boardId"`
	Count   int            `json:"count"`
	Objects []board.Object `json:"objects"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	BoardID string               `json:"boardId"`
	Count   int                  `json:"count"`
	Writes  []queue.PendingWrite `json:"writes"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	switch {
	case r.URL.Path == "/api/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/api/objects" && r.Method == http.MethodGet:
		s.handleObjects(w, r)
	case r.URL.Path == "/api/queue" && r.Method == http.MethodGet:
		s.handleQueue(w, r)
	case r.URL.Path == "/api/connectivity" && r.Method == http.MethodPost:
		s.handleConnectivity(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// authorized compares the bearer token in constant time. An empty
// configured token disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return hmac.Equal([]byte(presented), []byte(s.token))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writes, err := s.queue.All(r.Context(), s.session.BoardID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	mctx := s.manager.Context()
	writeJSON(w, http.StatusOK, StatusResponse{
		BoardID:           s.session.BoardID(),
		UserID:            s.session.UserID(),
		State:             s.manager.State(),
		Generation:        s.manager.Generation(),
		RetryCount:        mctx.RetryCount,
		MaxRetries:        mctx.MaxRetries,
		BrowserOnline:     mctx.BrowserOnline,
		ChannelStatuses:   mctx.ChannelStatuses,
		ObjectCount:       s.session.Store().Len(),
		QueueDepth:        len(writes),
		PendingBroadcasts: s.session.PendingBroadcastCount(),
	})
}

func (s *Server) handleObjects(w http.ResponseWriter, _ *http.Request) {
	objects := s.session.Store().All()
	if objects == nil {
		objects = []board.Object{}
	}
	writeJSON(w, http.StatusOK, ObjectsResponse{
		BoardID: s.session.BoardID(),
		Count:   len(objects),
		Objects: objects,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writes, err := s.queue.All(r.Context(), s.session.BoardID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if writes == nil {
		writes = []queue.PendingWrite{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{
		BoardID: s.session.BoardID(),
		Count:   len(writes),
		Writes:  writes,
	})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.Online == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing online field")
		return
	}
	s.manager.SetBrowserOnline(*body.Online)
	s.logger.Info("connectivity signal", "online", *body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *body.Online})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
