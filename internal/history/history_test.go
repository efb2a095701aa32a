package history

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/coxswain/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "history.bundle"), filepath.Join(dir, "history"), 3, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAppendAndGet(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.Append("sess-1", "ls -la")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !reflect.DeepEqual(entries, []string{"ls -la"}) {
		t.Fatalf("unexpected entries: %v", entries)
	}

	// Consecutive duplicate is dropped; blank entries too.
	if entries, err = store.Append("sess-1", "ls -la"); err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("duplicate appended: %v", entries)
	}
	if entries, err = store.Append("sess-1", "   "); err != nil {
		t.Fatalf("append blank: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("blank appended: %v", entries)
	}

	if _, err = store.Append("sess-1", "git status"); err != nil {
		t.Fatalf("append second: %v", err)
	}
	got, err := store.GetEntries("sess-1")
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"ls -la", "git status"}) {
		t.Fatalf("unexpected entries: %v", got)
	}
}

func TestAppendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "history.bundle")
	historyDir := filepath.Join(dir, "history")

	store, err := NewStore(storePath, historyDir, 3, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Append("sess-1", "make test"); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := NewStore(storePath, historyDir, 3, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, err := reopened.GetEntries("sess-1")
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"make test"}) {
		t.Fatalf("unexpected entries after reopen: %v", got)
	}
}

func TestAppendTrimsToMax(t *testing.T) {
	store := newTestStore(t) // max 3

	for _, entry := range []string{"one", "two", "three", "four"} {
		if _, err := store.Append("sess-2", entry); err != nil {
			t.Fatalf("append %q: %v", entry, err)
		}
	}
	got, err := store.GetEntries("sess-2")
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"two", "three", "four"}) {
		t.Fatalf("oldest not evicted: %v", got)
	}
}

func TestGetEntriesUnknownSession(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetEntries("never-written")
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
}

func TestListSessionsWithHistory(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Append("sess-a", "x"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append("sess-b", "y"); err != nil {
		t.Fatalf("append: %v", err)
	}

	ids, err := store.ListSessionsWithHistory()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Append("sess-rm", "x"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Remove("sess-rm"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("sess-rm"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	got, err := store.GetEntries("sess-rm")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("history survived removal: %v", got)
	}
}

func TestInvalidSessionID(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []schema.SessionID{"", "UPPER", "has space", "../escape"} {
		if _, err := store.Append(id, "x"); !errors.Is(err, schema.ErrInvalidSession) {
			t.Fatalf("id %q: expected ErrInvalidSession, got %v", id, err)
		}
	}
}

func TestHistoryEncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "history.bundle"), filepath.Join(dir, "history"), 10, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Append("sess-enc", "super secret prompt"); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "history", "sess-enc.enc"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(raw), "super secret prompt") {
		t.Fatal("history stored in plaintext")
	}
}
