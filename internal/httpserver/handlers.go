package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"PulseSend/internal/apperror"
	"PulseSend/internal/ingest"
	"PulseSend/internal/models"
)

// trackingPixel is the 1x1 transparent PNG returned by the open-tracking
// endpoint.
var trackingPixel = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x63, 0x00, 0x00, 0x00, 0x02,
	0x00, 0x01, 0xE2, 0x26, 0x05, 0x9B, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42,
	0x60, 0x82,
}

// TopicStore is the subset of store.Store the topic/stats handlers depend on.
type TopicStore interface {
	CountsByTopic(ctx context.Context, topicID string) (models.TopicStats, error)
	StopTopic(ctx context.Context, topicID string) (int64, error)
	SentCount(ctx context.Context, hours int) (int64, error)
	AppendResult(ctx context.Context, requestID int64, kind string, raw []byte) error
	GetRequestIDByMessageID(ctx context.Context, messageID string) (int64, error)
	Ping(ctx context.Context) error
}

type API struct {
	Ingest *ingest.Ingest
	Store  TopicStore
	Log    *zap.Logger
}

func (a *API) Register(r *mux.Router, apiKey string) {
	auth := Auth(apiKey)

	r.Handle("/v1/messages", auth(http.HandlerFunc(a.handleCreateMessage))).Methods(http.MethodPost)
	r.Handle("/v1/topics/{id}", auth(http.HandlerFunc(a.handleGetTopic))).Methods(http.MethodGet)
	r.Handle("/v1/topics/{id}", auth(http.HandlerFunc(a.handleStopTopic))).Methods(http.MethodDelete)
	r.Handle("/v1/events/counts/sent", auth(http.HandlerFunc(a.handleSentCount))).Methods(http.MethodGet)

	r.HandleFunc("/v1/events/open", a.handleTrackOpen).Methods(http.MethodGet)
	r.HandleFunc("/v1/events/results", a.handleEventResults).Methods(http.MethodPost)

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
}

type messageItem struct {
	TopicID string   `json:"topic_id"`
	Emails  []string `json:"emails"`
	Subject string   `json:"subject"`
	Content string   `json:"content"`
}

type createMessageRequest struct {
	Messages    []messageItem `json:"messages"`
	ScheduledAt *string       `json:"scheduled_at"`
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var payload createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperror.Validation("invalid json body"))
		return
	}

	items := make([]ingest.Item, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		items = append(items, ingest.Item{TopicID: m.TopicID, Emails: m.Emails, Subject: m.Subject, Body: m.Content})
	}

	var scheduledAt *time.Time
	if payload.ScheduledAt != nil && *payload.ScheduledAt != "" {
		t, err := ingest.ParseScheduledAt(*payload.ScheduledAt)
		if err != nil {
			a.Log.Warn("scheduled_at failed to parse, treating as unscheduled", zap.String("raw", *payload.ScheduledAt), zap.Error(err))
		} else {
			scheduledAt = &t
		}
	}

	result, err := a.Ingest.Submit(r.Context(), items, scheduledAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":       result.Total,
		"success":     result.Success,
		"errors":      len(result.Errors),
		"duration_ms": result.DurationMs,
		"scheduled":   result.Scheduled,
	})
}

func (a *API) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]
	stats, err := a.Store.CountsByTopic(r.Context(), topicID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_counts": stats.RequestCounts,
		"result_counts":  stats.ResultCounts,
	})
}

func (a *API) handleStopTopic(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]
	n, err := a.Store.StopTopic(r.Context(), topicID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": n})
}

func (a *API) handleSentCount(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if h, err := strconv.Atoi(raw); err == nil {
			hours = h
		}
	}
	count, err := a.Store.SentCount(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// handleTrackOpen always returns the pixel, even for a missing or
// unparseable request_id — tracking must never break the client.
func (a *API) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("request_id")
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if err := a.Store.AppendResult(r.Context(), id, "Open", nil); err != nil {
			a.Log.Warn("open tracking append failed", zap.Int64("request_id", id), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(trackingPixel)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "db": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "db": "connected"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), apperror.HTTPStatus(err))
}

