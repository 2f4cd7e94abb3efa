// Package transcript persists completed round messages as append-only
// JSONL files, one file per conversation. It is a log for humans and
// tooling; the session engine's own save format lives in the session
// package.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rondo/internal/chat"
)

const (
	defaultDirName   = ".rondo/transcripts"
	transcriptExt    = ".jsonl"
	maxJSONLLineSize = 1024 * 1024
)

var (
	ErrDirRequired       = errors.New("transcript directory is required")
	ErrIDRequired        = errors.New("transcript id is required")
	ErrInvalidID         = errors.New("invalid transcript id")
	ErrTranscriptMissing = errors.New("transcript not found")
)

// Entry is one logged message.
type Entry struct {
	Role         chat.Role       `json:"role"`
	Content      string          `json:"content,omitempty"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
	TS           int64           `json:"ts"`
}

// FromMessage converts a chat message into a transcript entry.
func FromMessage(msg chat.Message) Entry {
	entry := Entry{
		Role:    msg.Role,
		Content: msg.Content,
		Name:    msg.Name,
		TS:      time.Now().Unix(),
	}
	if msg.FunctionCall != nil {
		raw, err := json.Marshal(msg.FunctionCall)
		if err == nil {
			entry.FunctionCall = raw
		}
	}
	return entry
}

// Info describes one transcript file on disk.
type Info struct {
	ID        string
	Path      string
	UpdatedAt time.Time
	SizeBytes int64
}

// Store persists transcript entries as append-only JSONL files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrDirRequired
	}
	return &Store{dir: root}, nil
}

// DefaultDir returns the canonical transcripts directory under a home root.
func DefaultDir(home string) string {
	return filepath.Join(home, defaultDirName)
}

// Append appends one entry to a transcript file.
func (s *Store) Append(ctx context.Context, id string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.transcriptPath(id)
	if err != nil {
		return err
	}
	if entry.TS <= 0 {
		entry.TS = time.Now().Unix()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir %s: %w", s.dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// Load reads all entries from one transcript file.
func (s *Store) Load(ctx context.Context, id string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.transcriptPath(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTranscriptMissing, strings.TrimSpace(id))
		}
		return nil, fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineSize)

	entries := make([]Entry, 0, 64)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode transcript line %d: %w", lineNum, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("decode transcript line too large (> %d bytes): %w", maxJSONLLineSize, err)
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		return nil, fmt.Errorf("scan transcript file: %w", err)
	}

	return entries, nil
}

// List returns known transcripts sorted by newest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript dir %s: %w", s.dir, err)
	}

	out := make([]Info, 0, len(items))
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != transcriptExt {
			continue
		}

		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("read transcript file info %s: %w", item.Name(), err)
		}

		out = append(out, Info{
			ID:        strings.TrimSuffix(item.Name(), transcriptExt),
			Path:      filepath.Join(s.dir, item.Name()),
			UpdatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) transcriptPath(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrIDRequired
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidID, trimmed)
	}
	return filepath.Join(s.dir, trimmed+transcriptExt), nil
}
