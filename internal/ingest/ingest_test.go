package ingest

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/models"
)

func TestValidateRejectsTooManyRecipients(t *testing.T) {
	items := []Item{{TopicID: "t", Emails: make([]string, MaxEmailsPerRequest+1), Subject: "s", Body: "b"}}
	for i := range items[0].Emails {
		items[0].Emails[i] = "a@example.com"
	}
	if err := validate(items, MaxEmailsPerRequest+1); err == nil {
		t.Fatal("expected validation error for recipient count over limit")
	}
}

func TestValidateRejectsEmptyFields(t *testing.T) {
	cases := []Item{
		{TopicID: "", Emails: []string{"a@example.com"}, Subject: "s", Body: "b"},
		{TopicID: "t", Emails: []string{"a@example.com"}, Subject: "", Body: "b"},
		{TopicID: "t", Emails: []string{"a@example.com"}, Subject: "s", Body: ""},
		{TopicID: "t", Emails: []string{""}, Subject: "s", Body: "b"},
		{TopicID: "t", Emails: nil, Subject: "s", Body: "b"},
	}
	for i, item := range cases {
		if err := validate([]Item{item}, len(item.Emails)); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestValidateRejectsOverlongFields(t *testing.T) {
	long := strings.Repeat("a", 256)
	item := Item{TopicID: long, Emails: []string{"a@example.com"}, Subject: "s", Body: "b"}
	if err := validate([]Item{item}, 1); err == nil {
		t.Fatal("expected validation error for overlong topic_id")
	}
}

func TestValidateAcceptsWellFormedBatch(t *testing.T) {
	item := Item{TopicID: "t1", Emails: []string{"a@example.com", "b@example.com"}, Subject: "s", Body: "<p>hi</p>"}
	if err := validate([]Item{item}, 2); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestParseScheduledAtNormalizesToUTC(t *testing.T) {
	local, err := ParseScheduledAt("2026-08-06 15:04:05")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if local.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", local.Location())
	}
}

func TestParseScheduledAtRejectsGarbage(t *testing.T) {
	if _, err := ParseScheduledAt("not-a-time"); err == nil {
		t.Fatal("expected parse error for malformed timestamp")
	}
}

func TestExpandItemsDedupesIdenticalContent(t *testing.T) {
	items := []Item{
		{TopicID: "t1", Emails: []string{"a@example.com"}, Subject: "shared", Body: "<p>hi</p>"},
		{TopicID: "t2", Emails: []string{"b@example.com", "c@example.com"}, Subject: "shared", Body: "<p>hi</p>"},
		{TopicID: "t3", Emails: []string{"d@example.com"}, Subject: "different", Body: "<p>bye</p>"},
	}

	contentBatch, pendings := expandItems(items)

	if len(contentBatch) != 2 {
		t.Fatalf("expected exactly 2 distinct content rows for 2 distinct (subject, body) pairs, got %d", len(contentBatch))
	}
	if len(pendings) != 4 {
		t.Fatalf("expected 4 pending rows (one per recipient), got %d", len(pendings))
	}

	sharedIdx := pendings[0].contentIdx
	for _, p := range pendings[:3] {
		if p.contentIdx != sharedIdx {
			t.Fatalf("expected all recipients of the shared (subject, body) pair to reference content index %d, got %d", sharedIdx, p.contentIdx)
		}
	}
	if pendings[3].contentIdx == sharedIdx {
		t.Fatal("expected the distinct (subject, body) pair to reference a different content index")
	}
}

func TestEnqueueDoesNotBlockWhenQueueIsFull(t *testing.T) {
	sendQueue := make(chan models.ClaimedRequest, 1)
	sendQueue <- models.ClaimedRequest{RequestID: 0}

	ig := &Ingest{sendQueue: sendQueue, log: zap.NewNop()}

	done := make(chan struct{})
	go func() {
		ig.enqueue(models.ClaimedRequest{RequestID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue instead of offering non-blocking")
	}

	if len(sendQueue) != 1 {
		t.Fatalf("expected queue to still hold only the original item, got %d", len(sendQueue))
	}
}
