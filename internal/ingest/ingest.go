// Package ingest validates an incoming send-message batch, persists it,
// and hands due-now requests off to the send queue.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/apperror"
	"PulseSend/internal/metrics"
	"PulseSend/internal/models"
	"PulseSend/internal/store"
)

const (
	// MaxEmailsPerRequest bounds the total expanded recipient count of one
	// submit call.
	MaxEmailsPerRequest = 10000
	maxFieldLen         = 255
)

// Item is one entry of an incoming batch, before per-recipient expansion.
type Item struct {
	TopicID string
	Emails  []string
	Subject string
	Body    string
}

// Result is the response shape of Submit.
type Result struct {
	Total      int
	Success    int
	Errors     []string
	DurationMs int64
	Scheduled  bool
}

type Ingest struct {
	store     *store.Store
	sendQueue chan models.ClaimedRequest
	log       *zap.Logger
}

func New(s *store.Store, sendQueue chan models.ClaimedRequest, log *zap.Logger) *Ingest {
	return &Ingest{store: s, sendQueue: sendQueue, log: log}
}

// pending is one per-recipient row waiting to be turned into a RequestInsert,
// carrying the index of its already-deduplicated content in contentBatch.
type pending struct {
	contentIdx int
	item       Item
	email      string
}

// expandItems builds the distinct (subject, body) content batch for items
// and the per-recipient pending rows that reference it by index. Items
// sharing an identical (subject, body) pair collapse onto the same
// contentBatch entry, so the batch holds exactly one EmailContent per
// distinct pair regardless of how many items repeat it.
func expandItems(items []Item) ([]store.ContentInsert, []pending) {
	type contentKey struct{ subject, body string }

	contentBatch := make([]store.ContentInsert, 0, len(items))
	contentIdxByKey := make(map[contentKey]int, len(items))
	var pendings []pending
	for _, it := range items {
		key := contentKey{subject: it.Subject, body: it.Body}
		contentIdx, ok := contentIdxByKey[key]
		if !ok {
			contentIdx = len(contentBatch)
			contentBatch = append(contentBatch, store.ContentInsert{Subject: it.Subject, Body: it.Body})
			contentIdxByKey[key] = contentIdx
		}
		for _, email := range it.Emails {
			pendings = append(pendings, pending{contentIdx: contentIdx, item: it, email: email})
		}
	}
	return contentBatch, pendings
}

// Submit validates, persists, and (for due-now rows) enqueues items.
// scheduledAt is nil when the caller omitted it.
func (ig *Ingest) Submit(ctx context.Context, items []Item, scheduledAt *time.Time) (Result, error) {
	start := time.Now()

	total := 0
	for _, it := range items {
		total += len(it.Emails)
	}

	if err := validate(items, total); err != nil {
		metrics.IngestTotal.WithLabelValues("validation_error").Inc()
		return Result{}, err
	}

	due := time.Now().UTC()
	provided := scheduledAt != nil
	if provided {
		due = scheduledAt.UTC()
	}

	tx, err := ig.store.BeginTx(ctx)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("store_error").Inc()
		return Result{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	contentBatch, pendings := expandItems(items)

	contentIDs, err := ig.store.InsertContentsTx(ctx, tx, contentBatch)
	if err != nil {
		ig.log.Error("insert contents failed", zap.Error(err))
		return Result{}, err
	}

	requestBatch := make([]store.RequestInsert, 0, len(pendings))
	for _, p := range pendings {
		requestBatch = append(requestBatch, store.RequestInsert{
			TopicID:     p.item.TopicID,
			ContentID:   contentIDs[p.contentIdx],
			Email:       p.email,
			ScheduledAt: due,
			Status:      models.StatusCreated,
		})
	}

	requestIDs, err := ig.store.InsertRequestsTx(ctx, tx, requestBatch)
	if err != nil {
		ig.log.Error("insert requests failed", zap.Error(err))
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, apperror.Store("commit ingest batch", err)
	}
	committed = true

	successCount := len(requestIDs)

	if due.Before(time.Now().UTC().Add(time.Second)) {
		for i, id := range requestIDs {
			claimed := models.ClaimedRequest{
				RequestID:   id,
				TopicID:     pendings[i].item.TopicID,
				Email:       pendings[i].email,
				Subject:     pendings[i].item.Subject,
				Body:        pendings[i].item.Body,
				ScheduledAt: due,
			}
			ig.enqueue(claimed)
		}
	}

	metrics.IngestTotal.WithLabelValues("success").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	return Result{
		Total:      total,
		Success:    successCount,
		Errors:     nil,
		DurationMs: time.Since(start).Milliseconds(),
		Scheduled:  provided,
	}, nil
}

// enqueue offers claimed with a non-blocking send. If the send queue is
// full, the row is left Created for the Scheduler to pick up later; a
// synchronous HTTP handler must never block on a saturated channel.
func (ig *Ingest) enqueue(claimed models.ClaimedRequest) {
	select {
	case ig.sendQueue <- claimed:
	default:
	}
}

func validate(items []Item, total int) error {
	if total > MaxEmailsPerRequest {
		return apperror.Validation("recipient count exceeds limit")
	}
	if len(items) == 0 {
		return apperror.Validation("messages must not be empty")
	}
	for _, it := range items {
		if it.TopicID == "" || len(it.TopicID) > maxFieldLen {
			return apperror.Validation("topic_id must be non-empty and at most 255 characters")
		}
		if it.Subject == "" || len(it.Subject) > maxFieldLen {
			return apperror.Validation("subject must be non-empty and at most 255 characters")
		}
		if it.Body == "" {
			return apperror.Validation("body must be non-empty")
		}
		if len(it.Emails) == 0 {
			return apperror.Validation("emails must not be empty")
		}
		for _, email := range it.Emails {
			if email == "" || len(email) > maxFieldLen {
				return apperror.Validation("email must be non-empty and at most 255 characters")
			}
		}
	}
	return nil
}

// ParseScheduledAt parses a naive local-time wall clock string (no offset)
// in the server's local zone, normalizing the result to UTC. A parse
// failure is logged and treated as "no schedule provided" by the caller.
func ParseScheduledAt(raw string) (time.Time, error) {
	const layout = "2006-01-02 15:04:05"
	t, err := time.ParseInLocation(layout, raw, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
