package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"rondo/internal/chat"
)

// SavedVersion is the current saved-session format version.
const SavedVersion = 1

// savedSession is the on-disk session document. The token-length cache and
// the window builder's eviction cursor are deliberately absent; both are
// recomputed lazily after load.
type savedSession struct {
	Version               int            `json:"version"`
	AlwaysIncludeMessages []chat.Message `json:"always_include_messages"`
	ChatHistory           []chat.Message `json:"chat_history"`
}

// Save writes the always-include messages and history as a versioned JSON
// document.
func (s *Session) Save(w io.Writer) error {
	s.mu.Lock()
	doc := savedSession{
		Version:               SavedVersion,
		AlwaysIncludeMessages: chat.CloneAll(s.alwaysInclude),
		ChatHistory:           chat.CloneAll(s.history),
	}
	s.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode saved session: %w", err)
	}
	return nil
}

// Load overwrites the session's always-include messages and history from a
// document produced by Save. A version it does not recognize is a hard
// error and leaves the session unchanged.
func (s *Session) Load(r io.Reader) error {
	var doc savedSession
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode saved session: %w", err)
	}
	if doc.Version != SavedVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysInclude = chat.CloneAll(doc.AlwaysIncludeMessages)
	s.history = chat.CloneAll(doc.ChatHistory)
	s.oldestIdx = 0
	s.tokens.Reset()
	return nil
}

// SaveFile persists the session to path.
func (s *Session) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := s.Save(file); err != nil {
		return err
	}
	return file.Close()
}

// LoadFile restores the session from path.
func (s *Session) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	return s.Load(file)
}
