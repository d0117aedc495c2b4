package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/drblury/simabus/internal/runtime"
	"github.com/drblury/simabus/internal/runtime/envelope"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("rec-%d", n)
	}
}

func TestOnEventAppendsRecord(t *testing.T) {
	store := NewMemoryStore()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := NewSink(store, nil, WithClock(fixedClock(created)), WithIDGenerator(sequentialIDs()))

	payload := json.RawMessage(`{"id":"u1","email":"jo@example.com","userId":"admin-1"}`)
	if err := sink.OnEvent(context.Background(), EntityUser, ActionCreated, payload); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}

	rec, err := store.Get(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if rec.EntityID != "u1" || rec.EntityType != "USER" || rec.Action != "CREATED" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if string(rec.Payload) != string(payload) {
		t.Fatalf("payload must be stored verbatim, got %s", rec.Payload)
	}
	if rec.UserID != "admin-1" || rec.UserName != "jo@example.com" || rec.ResourceName != "jo@example.com" {
		t.Fatalf("unexpected actor fields %+v", rec)
	}
	if rec.Severity != DefaultSeverity || !rec.CreatedAt.Equal(created) {
		t.Fatalf("unexpected defaults %+v", rec)
	}
}

func TestOnEventDefaultsToSystemUser(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(store, nil)

	if err := sink.OnEvent(context.Background(), EntityAsset, ActionUpdated, json.RawMessage(`{"id":"a1"}`)); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}
	page, _ := store.List(context.Background(), Query{})
	if len(page.Records) != 1 || page.Records[0].UserID != SystemUser || page.Records[0].UserName != SystemUser {
		t.Fatalf("expected system actor, got %+v", page.Records)
	}
	if page.Records[0].ID == "" {
		t.Fatal("expected a generated record id")
	}
}

func TestOnEventAcceptsDuplicates(t *testing.T) {
	store := NewMemoryStore()
	sink := NewSink(store, nil)
	payload := json.RawMessage(`{"id":"a1"}`)

	for i := 0; i < 2; i++ {
		if err := sink.OnEvent(context.Background(), EntityAsset, ActionCreated, payload); err != nil {
			t.Fatalf("OnEvent failed: %v", err)
		}
	}
	if store.Len() != 2 {
		t.Fatalf("redelivered events must append again, got %d records", store.Len())
	}
}

func TestOnEventRequiresClassification(t *testing.T) {
	sink := NewSink(NewMemoryStore(), nil)
	if err := sink.OnEvent(context.Background(), "", ActionCreated, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing entity type")
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, Record) error { return errors.New("disk full") }

func TestHandlerSurfacesStoreErrors(t *testing.T) {
	sink := NewSink(&failingStore{}, nil)
	env, err := envelope.Decode("asset.created", []byte(`{"id":"a1"}`), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := sink.Handler("asset.created")(context.Background(), env); err == nil {
		t.Fatal("expected store error to reach the runner")
	}
}

type recordingSubscriber struct {
	topics []string
	groups []string
	failOn string
}

func (r *recordingSubscriber) Subscribe(ctx context.Context, topic, group string, handler runtime.Handler) (*runtime.Subscription, error) {
	if topic == r.failOn {
		return nil, errors.New("broker unreachable")
	}
	r.topics = append(r.topics, topic)
	r.groups = append(r.groups, group)
	return nil, nil
}

func TestSubscribeAllCoversMappedTopics(t *testing.T) {
	sink := NewSink(NewMemoryStore(), nil)
	sub := &recordingSubscriber{}

	if _, err := sink.SubscribeAll(context.Background(), sub, ""); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}
	if len(sub.topics) != len(DefaultMappings) {
		t.Fatalf("expected %d subscriptions, got %v", len(DefaultMappings), sub.topics)
	}
	for _, group := range sub.groups {
		if group != DefaultGroup {
			t.Fatalf("expected default group, got %q", group)
		}
	}
}

func TestSubscribeAllFailure(t *testing.T) {
	sink := NewSink(NewMemoryStore(), nil)
	if _, err := sink.SubscribeAll(context.Background(), &recordingSubscriber{failOn: "user.created"}, "audit"); err == nil {
		t.Fatal("expected subscribe failure to surface")
	}
}
