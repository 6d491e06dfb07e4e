package readstate

import (
	"context"
	"testing"

	filestorage "github.com/coachchat/internal/storage/file"
	memorystorage "github.com/coachchat/internal/storage/memory"
)

func TestMarkReadTransitions(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, memorystorage.New(), "u1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if tr.IsRead("c1") {
		t.Error("fresh tracker reports c1 read")
	}
	if err := tr.MarkRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !tr.IsRead("c1") {
		t.Error("c1 not read after MarkRead")
	}
	if err := tr.MarkUnread(ctx, "c1"); err != nil {
		t.Fatalf("MarkUnread: %v", err)
	}
	if tr.IsRead("c1") {
		t.Error("c1 still read after MarkUnread")
	}
}

func TestMarkUnreadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, memorystorage.New(), "u1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No marker set; clearing must not error.
	if err := tr.MarkUnread(ctx, "c1"); err != nil {
		t.Fatalf("MarkUnread without marker: %v", err)
	}
}

func TestMarkersSurviveReload(t *testing.T) {
	ctx := context.Background()
	store, err := filestorage.New(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	tr, err := New(ctx, store, "u1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.MarkRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := tr.MarkRead(ctx, "c2"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	reloaded, err := New(ctx, store, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsRead("c1") || !reloaded.IsRead("c2") {
		t.Error("markers lost across reload")
	}
}

func TestMarkersScopedByUser(t *testing.T) {
	ctx := context.Background()
	store := memorystorage.New()

	tr1, err := New(ctx, store, "u1")
	if err != nil {
		t.Fatalf("New u1: %v", err)
	}
	if err := tr1.MarkRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	tr2, err := New(ctx, store, "u2")
	if err != nil {
		t.Fatalf("New u2: %v", err)
	}
	if tr2.IsRead("c1") {
		t.Error("u2 sees u1's marker")
	}
}
