package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"confluenceqa/internal/middleware"
	"confluenceqa/internal/pipeline"
)

// Stream is the handler's view of a streaming answer.
type Stream interface {
	Recv() (string, error)
	Sources() []pipeline.Source
}

// Service is the session surface the handlers drive.
type Service interface {
	Configure(ctx context.Context, cfg pipeline.Config) error
	Answer(ctx context.Context, question string) (string, error)
	AnswerStream(ctx context.Context, question string) (Stream, error)
}

// SessionService adapts a pipeline session to the Service interface.
type SessionService struct {
	Session *pipeline.Session
}

func (s SessionService) Configure(ctx context.Context, cfg pipeline.Config) error {
	return s.Session.Configure(ctx, cfg)
}

func (s SessionService) Answer(ctx context.Context, question string) (string, error) {
	return s.Session.Answer(ctx, question)
}

func (s SessionService) AnswerStream(ctx context.Context, question string) (Stream, error) {
	stream, err := s.Session.AnswerStream(ctx, question)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type Handler struct {
	service  Service
	defaults pipeline.Config
}

// NewHandler builds the QA handlers. defaults fills request fields the client
// omits when configuring a session, typically from environment config.
func NewHandler(service Service, defaults pipeline.Config) *Handler {
	return &Handler{service: service, defaults: defaults}
}

type ConfigureRequest struct {
	ConfluenceURL string `json:"confluence_url"`
	Username      string `json:"username"`
	APIKey        string `json:"api_key"`
	SpaceKey      string `json:"space_key"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

// Configure handles POST /session: it (re)binds the session to a space and
// runs the full ingestion before returning.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg := h.mergeDefaults(req)
	slog.InfoContext(ctx, "configuring session", "space_key", cfg.SpaceKey, "correlationId", correlationID)

	if err := h.service.Configure(ctx, cfg); err != nil {
		slog.ErrorContext(ctx, "session configuration failed", "error", err, "correlationId", correlationID)
		h.writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "ready"}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) mergeDefaults(req ConfigureRequest) pipeline.Config {
	cfg := pipeline.Config{
		ConfluenceURL: req.ConfluenceURL,
		Username:      req.Username,
		APIKey:        req.APIKey,
		SpaceKey:      req.SpaceKey,
	}
	if cfg.ConfluenceURL == "" {
		cfg.ConfluenceURL = h.defaults.ConfluenceURL
	}
	if cfg.Username == "" {
		cfg.Username = h.defaults.Username
	}
	if cfg.APIKey == "" {
		cfg.APIKey = h.defaults.APIKey
	}
	if cfg.SpaceKey == "" {
		cfg.SpaceKey = h.defaults.SpaceKey
	}
	return cfg
}

// Ask handles POST /ask: one synchronous question, one complete answer.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "question is required", http.StatusBadRequest)
		return
	}

	answer, err := h.service.Answer(ctx, req.Question)
	if err != nil {
		slog.ErrorContext(ctx, "answer failed", "error", err, "correlationId", correlationID)
		h.writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": AskResponse{Answer: answer}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// AskStream handles GET /ask/stream: the answer arrives as SSE message events,
// followed by one sources event with the deduplicated citations, then done.
func (h *Handler) AskStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "question query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, "INTERNAL_ERROR", "streaming not supported", http.StatusInternalServerError)
		return
	}

	stream, err := h.service.AnswerStream(ctx, question)
	if err != nil {
		slog.ErrorContext(ctx, "stream setup failed", "error", err, "correlationId", correlationID)
		h.writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "client disconnected mid-stream", "correlationId", correlationID)
			return
		}

		token, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.ErrorContext(ctx, "stream aborted", "error", err, "correlationId", correlationID)
			writeEvent(w, flusher, "error", mapErrorCode(err))
			return
		}
		data, _ := json.Marshal(token)
		writeEvent(w, flusher, "message", string(data))
	}

	sources := stream.Sources()
	if sources == nil {
		sources = []pipeline.Source{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode sources", "error", err, "correlationId", correlationID)
		return
	}
	writeEvent(w, flusher, "sources", string(data))
	writeEvent(w, flusher, "done", "[DONE]")
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func mapErrorCode(err error) string {
	code, _ := classify(err)
	return code
}

func classify(err error) (code string, status int) {
	switch {
	case errors.Is(err, pipeline.ErrMissingConfig):
		return "MISSING_CONFIG", http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotReady):
		return "NOT_READY", http.StatusConflict
	case errors.Is(err, pipeline.ErrBusy):
		return "BUSY", http.StatusConflict
	case errors.Is(err, pipeline.ErrSource):
		return "SOURCE_ERROR", http.StatusBadGateway
	case errors.Is(err, pipeline.ErrProvider):
		return "PROVIDER_ERROR", http.StatusBadGateway
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := classify(err)
	h.writeError(ctx, w, code, err.Error(), status)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
