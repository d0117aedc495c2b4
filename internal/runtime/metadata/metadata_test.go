package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}

	var empty Metadata
	if empty.Clone() == nil {
		t.Fatal("expected non-nil clone of a nil map")
	}
}

func TestWithAllOverridesWithoutAliasing(t *testing.T) {
	base := Metadata{"foo": "bar", KeyOffset: "3"}
	merged := base.WithAll(Metadata{HeaderDeadLetterReason: "boom", "foo": "override"})

	if base["foo"] != "bar" || len(base) != 2 {
		t.Fatalf("expected base map to remain unchanged, got %#v", base)
	}
	if merged["foo"] != "override" || merged[HeaderDeadLetterReason] != "boom" || merged[KeyOffset] != "3" {
		t.Fatalf("unexpected merge result %#v", merged)
	}

	var empty Metadata
	if got := empty.WithAll(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", got)
	}
}

func TestHeadersStripsInternalKeys(t *testing.T) {
	md := New(HeaderCorrelationID, "c-1", KeyPartitionKey, "a1", KeyOffset, "7")
	headers := md.Headers()

	if len(headers) != 1 || headers.CorrelationID() != "c-1" {
		t.Fatalf("expected only public headers, got %#v", headers)
	}
	if md[KeyOffset] != "7" {
		t.Fatal("expected source map to keep internal keys")
	}
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 123000000, time.UTC)
	md := Metadata{HeaderTimestamp: now.Format(TimestampLayout)}

	got, err := md.Timestamp()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}

	if _, err := (Metadata{}).Timestamp(); err == nil {
		t.Fatal("expected error for a missing timestamp")
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	wm["source"] = "mutation"
	if md["source"] != "api" {
		t.Fatal("expected original metadata to be isolated from watermill changes")
	}
	if len(ToWatermill(nil)) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}

	back := FromWatermill(message.Metadata{"event": "asset"})
	if back["event"] != "asset" {
		t.Fatal("expected watermill metadata to convert back")
	}
	if FromWatermill(nil) == nil {
		t.Fatal("expected non-nil map")
	}
}
