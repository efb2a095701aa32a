// Package history stores per-session prompt history, encrypted at
// rest with kryptograf. One file per session under the history
// directory; a shared keystore holds the root key and per-session
// data-encryption key descriptors.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pkt.systems/coxswain/schema"
	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const (
	historyExt       = ".enc"
	descriptorPrefix = "coxswain:history:"
	defaultMax       = 200
)

// Store manages encrypted prompt-history files.
type Store struct {
	storePath string
	dir       string
	max       int
	log       pslog.Logger

	mu sync.Mutex
}

// NewStore initializes the history store, creating the keystore and
// history directory as needed.
func NewStore(storePath, dir string, maxEntries int, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(storePath) == "" {
		return nil, fmt.Errorf("history key store path is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	if maxEntries <= 0 {
		maxEntries = defaultMax
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	store, err := keymgmt.LoadProto(storePath)
	if err != nil {
		return nil, err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		return nil, err
	}
	if err := store.Commit(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("history_dir", dir)
	}
	return &Store{storePath: storePath, dir: dir, max: maxEntries, log: logger}, nil
}

// GetEntries returns the stored history for a session, oldest first.
// A session with no history yields an empty slice.
func (s *Store) GetEntries(sessionID schema.SessionID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID)
}

// Append adds an entry and returns the updated history. Blank entries
// and consecutive duplicates are dropped without touching the file.
func (s *Store) Append(sessionID schema.SessionID, entry string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(entry) == "" {
		return entries, nil
	}
	if len(entries) > 0 && entries[len(entries)-1] == entry {
		return entries, nil
	}
	entries = append(entries, entry)
	if len(entries) > s.max {
		entries = entries[len(entries)-s.max:]
	}
	if err := s.saveLocked(sessionID, entries); err != nil {
		if s.log != nil {
			s.log.Warn("history append failed", "session", sessionID, "err", err)
		}
		return nil, err
	}
	return entries, nil
}

// ListSessionsWithHistory returns the ids of sessions that have a
// history file on disk.
func (s *Store) ListSessionsWithHistory() ([]schema.SessionID, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []schema.SessionID
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() || !strings.HasSuffix(name, historyExt) {
			continue
		}
		ids = append(ids, schema.SessionID(strings.TrimSuffix(name, historyExt)))
	}
	return ids, nil
}

// Remove deletes a session's history file and is a no-op when none
// exists.
func (s *Store) Remove(sessionID schema.SessionID) error {
	path, err := s.filePath(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) loadLocked(sessionID schema.SessionID) ([]string, error) {
	path, err := s.filePath(sessionID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()
	material, root, err := s.material(sessionID)
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	reader, err := kg.DecryptReader(file, material)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	var entries []string
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", sessionID, err)
	}
	return entries, nil
}

func (s *Store) saveLocked(sessionID schema.SessionID, entries []string) error {
	path, err := s.filePath(sessionID)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	material, root, err := s.material(sessionID)
	if err != nil {
		return err
	}
	kg := kryptograf.New(root)
	tmp, err := os.CreateTemp(s.dir, "history-*.enc")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	writer, err := kg.EncryptWriter(tmp, material)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(plain)); err != nil {
		_ = writer.Close()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	// EncryptWriter.Close closes the underlying file.
	_ = tmp.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) material(sessionID schema.SessionID) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(s.storePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	descName := descriptorPrefix + string(sessionID)
	material, err := store.EnsureDescriptor(descName, root, []byte(descName))
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (s *Store) filePath(sessionID schema.SessionID) (string, error) {
	raw := string(sessionID)
	if raw == "" {
		return "", schema.ErrInvalidSession
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			continue
		}
		return "", schema.ErrInvalidSession
	}
	return filepath.Join(s.dir, raw+historyExt), nil
}
