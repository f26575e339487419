package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"PulseSend/internal/models"
)

type fakeTopicStore struct {
	pingErr     error
	appendCalls []int64
}

func (f *fakeTopicStore) CountsByTopic(ctx context.Context, topicID string) (models.TopicStats, error) {
	return models.TopicStats{RequestCounts: map[string]int64{"Sent": 1}, ResultCounts: map[string]int64{}}, nil
}
func (f *fakeTopicStore) StopTopic(ctx context.Context, topicID string) (int64, error) { return 3, nil }
func (f *fakeTopicStore) SentCount(ctx context.Context, hours int) (int64, error)       { return 5, nil }
func (f *fakeTopicStore) AppendResult(ctx context.Context, requestID int64, kind string, raw []byte) error {
	f.appendCalls = append(f.appendCalls, requestID)
	return nil
}
func (f *fakeTopicStore) GetRequestIDByMessageID(ctx context.Context, messageID string) (int64, error) {
	return 1, nil
}
func (f *fakeTopicStore) Ping(ctx context.Context) error { return f.pingErr }

func TestAuthRejectsMissingEmptyAndWrongKey(t *testing.T) {
	h := Auth("correct-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		key string
		set bool
	}{
		{key: "", set: false},
		{key: "", set: true},
		{key: "wrong-key", set: true},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
		if c.set {
			req.Header.Set("X-API-KEY", c.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("key=%q set=%v: expected 401, got %d", c.key, c.set, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	req.Header.Set("X-API-KEY", "correct-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with correct key, got %d", rec.Code)
	}
}

func TestTrackOpenAlwaysReturns200(t *testing.T) {
	store := &fakeTopicStore{}
	api := &API{Store: store, Log: zap.NewNop()}

	for _, raw := range []string{"42", "not-a-number", ""} {
		req := httptest.NewRequest(http.MethodGet, "/v1/events/open?request_id="+raw, nil)
		rec := httptest.NewRecorder()
		api.handleTrackOpen(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request_id=%q: expected 200, got %d", raw, rec.Code)
		}
		if rec.Header().Get("Content-Type") != "image/png" {
			t.Errorf("request_id=%q: expected image/png content type", raw)
		}
	}
	if len(store.appendCalls) != 1 || store.appendCalls[0] != 42 {
		t.Fatalf("expected exactly one AppendResult call for id=42, got %v", store.appendCalls)
	}
}

func TestReadyReflectsStorePing(t *testing.T) {
	api := &API{Store: &fakeTopicStore{}, Log: zap.NewNop()}
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	api.handleReady(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when db is reachable, got %d", rec.Code)
	}

	failing := &API{Store: &fakeTopicStore{pingErr: context.DeadlineExceeded}, Log: zap.NewNop()}
	rec = httptest.NewRecorder()
	failing.handleReady(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when db ping fails, got %d", rec.Code)
	}
}
