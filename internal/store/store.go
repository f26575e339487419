// Package store is the durable, transactional record of every email
// content, per-recipient request, and delivery event, backed by
// PostgreSQL via pgx.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PulseSend/internal/apperror"
	"PulseSend/internal/models"
)

// BatchInsertSize bounds how many rows go into a single multi-row INSERT,
// per the store's bulk-write contract.
const BatchInsertSize = 100

type Store struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// New opens a connection pool against dsn and applies every pending
// migration before returning. A migration failure is fatal to startup.
func New(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	pool, err := newPool(ctx, dsn, opts)
	if err != nil {
		return nil, apperror.Store("open pool", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, apperror.Store("run migrations", err)
	}
	return &Store{pool: pool, acquireTimeout: opts.AcquireTimeout}, nil
}

func (s *Store) Close() { s.pool.Close() }

// withTimeout bounds ctx by the configured acquire timeout. pgxpool has no
// pool-wide acquire timeout setting: a Query/Exec/Begin call acquires a
// connection using the same ctx it executes with, so the timeout is applied
// here, once, for every Store operation.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.acquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.acquireTimeout)
}

// Ping verifies the pool can reach the database, used by the /ready probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// BeginTx starts a transaction for callers (Ingest) that need content and
// request inserts to commit or roll back together. The acquire timeout
// bounds only the acquisition of the underlying connection, not the
// lifetime of the transaction itself, so it is not attached to the
// returned tx's subsequent calls.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	acquireCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.pool.Begin(acquireCtx)
	if err != nil {
		return nil, apperror.Store("begin transaction", err)
	}
	return tx, nil
}

// ContentInsert is one row to persist via InsertContentsTx.
type ContentInsert struct {
	Subject string
	Body    string
}

// InsertContentsTx inserts batch in chunks of BatchInsertSize, returning
// assigned ids in input order.
func (s *Store) InsertContentsTx(ctx context.Context, tx pgx.Tx, batch []ContentInsert) ([]int64, error) {
	ids := make([]int64, 0, len(batch))
	for start := 0; start < len(batch); start += BatchInsertSize {
		end := start + BatchInsertSize
		if end > len(batch) {
			end = len(batch)
		}
		chunkIDs, err := insertContentChunk(ctx, tx, batch[start:end])
		if err != nil {
			return nil, apperror.Store("insert contents", err)
		}
		ids = append(ids, chunkIDs...)
	}
	return ids, nil
}

func insertContentChunk(ctx context.Context, tx pgx.Tx, chunk []ContentInsert) ([]int64, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO email_contents (subject, body) VALUES ")
	args := make([]any, 0, len(chunk)*2)
	for i, c := range chunk {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * 2
		fmt.Fprintf(&b, "($%d,$%d)", n+1, n+2)
		args = append(args, c.Subject, c.Body)
	}
	b.WriteString(" RETURNING id")

	rows, err := tx.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, len(chunk))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequestInsert is one row to persist via InsertRequestsTx.
type RequestInsert struct {
	TopicID     string
	ContentID   int64
	Email       string
	ScheduledAt time.Time
	Status      models.Status
}

// InsertRequestsTx inserts batch in chunks of BatchInsertSize, returning
// assigned ids in input order.
func (s *Store) InsertRequestsTx(ctx context.Context, tx pgx.Tx, batch []RequestInsert) ([]int64, error) {
	ids := make([]int64, 0, len(batch))
	for start := 0; start < len(batch); start += BatchInsertSize {
		end := start + BatchInsertSize
		if end > len(batch) {
			end = len(batch)
		}
		chunkIDs, err := insertRequestChunk(ctx, tx, batch[start:end])
		if err != nil {
			return nil, apperror.Store("insert requests", err)
		}
		ids = append(ids, chunkIDs...)
	}
	return ids, nil
}

func insertRequestChunk(ctx context.Context, tx pgx.Tx, chunk []RequestInsert) ([]int64, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO email_requests (topic_id, content_id, email, scheduled_at, status) VALUES ")
	args := make([]any, 0, len(chunk)*5)
	for i, r := range chunk {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * 5
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, r.TopicID, r.ContentID, r.Email, r.ScheduledAt, r.Status)
	}
	b.WriteString(" RETURNING id")

	rows, err := tx.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, len(chunk))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimDue atomically moves up to limit due (status=Created,
// scheduled_at<=now) rows to Processed and returns them joined with the
// content they need to render, ordered non-decreasing by scheduled_at.
// The select-and-mark happens in a single statement: a SKIP LOCKED CTE
// feeding an UPDATE ... RETURNING, so concurrent schedulers never double-claim.
// The CTE's ORDER BY only bounds which rows are selected — Postgres gives no
// guarantee that UPDATE ... FROM ... RETURNING preserves that scan order in
// its output, so the claimed batch is re-sorted by ScheduledAt here before
// it is returned.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]models.ClaimedRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		WITH cte AS (
			SELECT id FROM email_requests
			WHERE status = $1 AND scheduled_at <= now()
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_requests er
		SET status = $3, updated_at = now()
		FROM cte, email_contents c
		WHERE er.id = cte.id AND c.id = er.content_id
		RETURNING er.id, er.topic_id, er.email, c.subject, c.body, er.scheduled_at
	`, models.StatusCreated, limit, models.StatusProcessed)
	if err != nil {
		return nil, apperror.Store("claim due requests", err)
	}
	defer rows.Close()

	var claimed []models.ClaimedRequest
	for rows.Next() {
		var c models.ClaimedRequest
		if err := rows.Scan(&c.RequestID, &c.TopicID, &c.Email, &c.Subject, &c.Body, &c.ScheduledAt); err != nil {
			return nil, apperror.Store("scan claimed request", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Store("claim due requests", err)
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
	})
	return claimed, nil
}

// FinalizeBatch applies every outcome's terminal status, message id, and
// error in one UPDATE statement keyed by request id.
func (s *Store) FinalizeBatch(ctx context.Context, outcomes []models.SendOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var status, message, errCol, ids strings.Builder
	args := make([]any, 0, len(outcomes)*4)
	argN := 1

	for i, o := range outcomes {
		fmt.Fprintf(&status, "WHEN $%d THEN $%d::smallint ", argN, argN+1)
		args = append(args, o.RequestID, o.Status)
		argN += 2

		fmt.Fprintf(&message, "WHEN $%d THEN $%d::text ", argN, argN+1)
		args = append(args, o.RequestID, o.MessageID)
		argN += 2

		fmt.Fprintf(&errCol, "WHEN $%d THEN $%d::text ", argN, argN+1)
		args = append(args, o.RequestID, o.Error)
		argN += 2

		if i > 0 {
			ids.WriteString(",")
		}
		fmt.Fprintf(&ids, "$%d", argN)
		args = append(args, o.RequestID)
		argN++
	}

	query := fmt.Sprintf(`
		UPDATE email_requests
		SET status = CASE id %s END,
		    message_id = CASE id %s END,
		    error = CASE id %s END,
		    updated_at = now()
		WHERE id IN (%s)
	`, status.String(), message.String(), errCol.String(), ids.String())

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return apperror.Store("finalize batch", err)
	}
	return nil
}

// StopTopic moves every Created row under topicID to Stopped, returning
// the number of rows affected.
func (s *Store) StopTopic(ctx context.Context, topicID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE email_requests
		SET status = $1, updated_at = now()
		WHERE topic_id = $2 AND status = $3
	`, models.StatusStopped, topicID, models.StatusCreated)
	if err != nil {
		return 0, apperror.Store("stop topic", err)
	}
	return tag.RowsAffected(), nil
}

// CountsByTopic reports request counts by status and result counts by kind
// for every request under topicID.
func (s *Store) CountsByTopic(ctx context.Context, topicID string) (models.TopicStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := models.TopicStats{
		RequestCounts: make(map[string]int64),
		ResultCounts:  make(map[string]int64),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM email_requests WHERE topic_id = $1 GROUP BY status
	`, topicID)
	if err != nil {
		return stats, apperror.Store("counts by topic", err)
	}
	for rows.Next() {
		var status models.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, apperror.Store("scan request counts", err)
		}
		stats.RequestCounts[status.String()] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, apperror.Store("counts by topic", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT r.status, count(*)
		FROM email_results r
		JOIN email_requests er ON er.id = r.request_id
		WHERE er.topic_id = $1
		GROUP BY r.status
	`, topicID)
	if err != nil {
		return stats, apperror.Store("result counts by topic", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, apperror.Store("scan result counts", err)
		}
		stats.ResultCounts[status] = n
	}
	return stats, rows.Err()
}

// SentCount returns how many requests created within the last hours are
// now Sent.
func (s *Store) SentCount(ctx context.Context, hours int) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM email_requests
		WHERE status = $1 AND created_at >= now() - ($2 || ' hours')::interval
	`, models.StatusSent, hours).Scan(&n)
	if err != nil {
		return 0, apperror.Store("sent count", err)
	}
	return n, nil
}

// AppendResult records one delivery event for requestID. Fails with
// NotFound if requestID does not reference an existing request.
func (s *Store) AppendResult(ctx context.Context, requestID int64, kind string, raw []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO email_results (request_id, status, raw)
		SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM email_requests WHERE id = $1)
	`, requestID, kind, raw)
	if err != nil {
		return apperror.Store("append result", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("request not found")
	}
	return nil
}

// GetRequestIDByMessageID resolves a provider message id back to the
// originating request, used by the event-callback webhook.
func (s *Store) GetRequestIDByMessageID(ctx context.Context, messageID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM email_requests WHERE message_id = $1
	`, messageID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, apperror.NotFound("no request for message id")
		}
		return 0, apperror.Store("lookup request by message id", err)
	}
	return id, nil
}
