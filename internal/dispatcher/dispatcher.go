// Package dispatcher drains the send queue, paces outbound mail through a
// token bucket and a concurrency semaphore, and forwards the outcome of
// every attempt to the post-send queue.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"PulseSend/internal/metrics"
	"PulseSend/internal/models"
	"PulseSend/internal/tokenbucket"
)

const sendTimeout = 30 * time.Second

// Sender is the subset of gateway.Client the Dispatcher depends on.
type Sender interface {
	Send(ctx context.Context, from, to, subject, htmlBody string) (string, error)
}

// Dispatcher is safe for use by exactly one caller loop (Run); it spawns
// its own per-item goroutines internally.
type Dispatcher struct {
	sendQueue <-chan models.ClaimedRequest
	postQueue chan<- models.SendOutcome

	sender    Sender
	fromAddr  string
	serverURL string

	bucket *tokenbucket.Bucket
	sem    *semaphore.Weighted

	breaker *gobreaker.CircuitBreaker

	log *zap.Logger

	wg sync.WaitGroup
}

// New builds a Dispatcher pacing at most maxPerSecond sends per second with
// a concurrency ceiling of 2*maxPerSecond in-flight sub-tasks.
func New(sendQueue <-chan models.ClaimedRequest, postQueue chan<- models.SendOutcome, sender Sender, fromAddr, serverURL string, maxPerSecond int, log *zap.Logger) *Dispatcher {
	if maxPerSecond < 1 {
		maxPerSecond = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ses-gateway",
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Dispatcher{
		sendQueue: sendQueue,
		postQueue: postQueue,
		sender:    sender,
		fromAddr:  fromAddr,
		serverURL: serverURL,
		bucket:    tokenbucket.New(maxPerSecond),
		sem:       semaphore.NewWeighted(int64(maxPerSecond * 2)),
		breaker:   breaker,
		log:       log,
	}
}

// Run consumes the send queue until it is closed, then waits for every
// in-flight sub-task to finish before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case req, ok := <-d.sendQueue:
			if !ok {
				d.wg.Wait()
				return
			}
			d.spawn(ctx, req)
		}
	}
}

func (d *Dispatcher) spawn(ctx context.Context, req models.ClaimedRequest) {
	if err := d.bucket.Acquire(ctx); err != nil {
		return
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.sendOne(ctx, req)
	}()
}

func (d *Dispatcher) sendOne(ctx context.Context, req models.ClaimedRequest) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	body, err := withTrackingPixel(req.Body, req.RequestID, d.serverURL)
	if err != nil {
		d.forward(req.RequestID, models.StatusFailed, nil, errPtr(err))
		return
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		return d.sender.Send(sendCtx, d.fromAddr, req.Email, req.Subject, body)
	})

	if err != nil {
		metrics.EmailFailures.Inc()
		msg := err.Error()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			msg = "circuit open"
		}
		d.log.Warn("send failed", zap.Int64("request_id", req.RequestID), zap.Error(err))
		d.forward(req.RequestID, models.StatusFailed, nil, &msg)
		return
	}

	messageID, _ := result.(string)
	metrics.EmailsSent.Inc()
	d.forward(req.RequestID, models.StatusSent, &messageID, nil)
}

func (d *Dispatcher) forward(requestID int64, status models.Status, messageID, errMsg *string) {
	outcome := models.SendOutcome{RequestID: requestID, Status: status, MessageID: messageID, Error: errMsg}
	d.postQueue <- outcome
}

func errPtr(err error) *string {
	s := err.Error()
	return &s
}

// trackingPixelTemplate injects an invisible open-tracking image just
// before the closing body tag, rendered with the request id so the pixel
// handler can attribute the open.
var trackingPixelTemplate = template.Must(template.New("pixel").Parse(
	`<img src="{{.}}" width="1" height="1" style="display:none" alt="">`,
))

// withTrackingPixel clones the body only when appending the pixel, leaving
// the caller's original string untouched.
func withTrackingPixel(body string, requestID int64, serverURL string) (string, error) {
	var buf bytes.Buffer
	pixelURL := fmt.Sprintf("%s/v1/events/open?request_id=%d", serverURL, requestID)
	if err := trackingPixelTemplate.Execute(&buf, pixelURL); err != nil {
		return "", err
	}

	const closingTag = "</body>"
	if idx := lastIndex(body, closingTag); idx >= 0 {
		return body[:idx] + buf.String() + body[idx:], nil
	}
	return body + buf.String(), nil
}

func lastIndex(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Close releases the token bucket's background refill goroutine.
func (d *Dispatcher) Close() { d.bucket.Close() }
