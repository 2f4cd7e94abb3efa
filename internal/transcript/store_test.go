package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rondo/internal/chat"
)

func TestNewStoreRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := NewStore("  "); !errors.Is(err, ErrDirRequired) {
		t.Fatalf("NewStore() error = %v, want ErrDirRequired", err)
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	entries := []Entry{
		FromMessage(chat.User("hello")),
		FromMessage(chat.Message{
			Role: chat.RoleAssistant,
			FunctionCall: &chat.FunctionCall{
				Name:      "get_weather",
				Arguments: json.RawMessage(`{"city":"tokyo"}`),
			},
		}),
		FromMessage(chat.Function("get_weather", "sunny")),
	}
	for _, entry := range entries {
		if err := store.Append(ctx, "conv-1", entry); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	loaded, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded entries = %d, want 3", len(loaded))
	}
	if loaded[0].Role != chat.RoleUser || loaded[0].Content != "hello" {
		t.Fatalf("entry[0] = %+v", loaded[0])
	}
	if len(loaded[1].FunctionCall) == 0 {
		t.Fatalf("entry[1] lost its function call: %+v", loaded[1])
	}
	if loaded[2].Name != "get_weather" {
		t.Fatalf("entry[2] = %+v", loaded[2])
	}
	for i, entry := range loaded {
		if entry.TS <= 0 {
			t.Fatalf("entry[%d] has no timestamp", i)
		}
	}
}

func TestLoadMissingTranscript(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrTranscriptMissing) {
		t.Fatalf("Load() error = %v, want ErrTranscriptMissing", err)
	}
}

func TestTranscriptIDValidation(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		if err := store.Append(ctx, id, Entry{Role: chat.RoleUser}); err == nil {
			t.Fatalf("Append(%q) accepted an invalid id", id)
		}
	}
}

func TestLoadSkipsBlankLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	content := `{"role":"user","content":"one","ts":1}

{"role":"user","content":"two","ts":2}
`
	if err := os.WriteFile(filepath.Join(dir, "conv.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loaded, err := store.Load(context.Background(), "conv")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded entries = %d, want 2", len(loaded))
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Append(ctx, "old", Entry{Role: chat.RoleUser, Content: "a"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, "new", Entry{Role: chat.RoleUser, Content: "b"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Force distinct modification times regardless of filesystem
	// timestamp granularity.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old.jsonl"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed transcripts = %d, want 2", len(infos))
	}
	if infos[0].ID != "new" || infos[1].ID != "old" {
		t.Fatalf("order = %s, %s; want new, old", infos[0].ID, infos[1].ID)
	}
}

func TestListEmptyDirIsNotAnError(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	infos, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("listed transcripts = %d, want 0", len(infos))
	}
}
