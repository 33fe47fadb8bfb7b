package statestore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
)

func TestFileStore_GetMissingReturnsIdle(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	s, err := fs.Get(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.Status != StatusIdle || s.Message != DefaultMessage {
		t.Errorf("Get() = %+v, want default IDLE", s)
	}
}

func TestFileStore_SetOverwritesInFull(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir())

	started := time.Now().UTC().Truncate(time.Second)
	if err := fs.Set(ctx, "billing", State{
		Status:    StatusReviewing,
		Message:   "Peer review attempt 1...",
		DraftPath: "/ws/.speki/specs/billing/tasks.draft.json",
		StartedAt: &started,
		Attempt:   1,
	}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := fs.Set(ctx, "billing", State{Status: StatusCompleted, Message: "done", Verdict: VerdictPass}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s, err := fs.Get(ctx, "billing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.Status != StatusCompleted || s.Verdict != VerdictPass {
		t.Errorf("unexpected state: %+v", s)
	}
	if s.DraftPath != "" || s.Attempt != 0 || s.StartedAt != nil {
		t.Errorf("Set must not merge with the previous record: %+v", s)
	}
	if s.UpdatedAt == nil {
		t.Error("UpdatedAt should be stamped")
	}

	if _, err := os.Stat(fs.Path("billing")); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}

func TestFileStore_Corrupted(t *testing.T) {
	root := t.TempDir()
	fs := NewFileStore(root)
	path := fs.Path("broken")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("{not json"), 0644)

	s, err := fs.Get(context.Background(), "broken")
	if !errors.Is(err, errors.ErrStateCorrupted) {
		t.Errorf("Get() error = %v, want ErrStateCorrupted", err)
	}
	if s.Status != StatusIdle {
		t.Errorf("corrupted record should read as IDLE, got %s", s.Status)
	}
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs := NewFileStore(root)

	ids, err := fs.List(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("List() on empty root = %v, %v", ids, err)
	}

	fs.Set(ctx, "a", State{Status: StatusIdle})
	fs.Set(ctx, "b", State{Status: StatusCompleted})
	os.MkdirAll(filepath.Join(root, "no-state"), 0755)

	ids, err = fs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("List() = %v", ids)
	}
}
