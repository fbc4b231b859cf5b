package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store manages the raw (session directories) and processed (SQLite files)
// data trees.
type Store struct {
	rawDir       string
	processedDir string
}

// New creates a Store, ensuring both directories exist.
func New(rawDir, processedDir string) (*Store, error) {
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raw dir: %w", err)
	}
	if err := os.MkdirAll(processedDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create processed dir: %w", err)
	}
	return &Store{rawDir: rawDir, processedDir: processedDir}, nil
}

// ListRawSessions returns session ids of raw sessions that have been
// finalized (metadata.json present), sorted.
func (s *Store) ListRawSessions() ([]string, error) {
	entries, err := os.ReadDir(s.rawDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw dir: %w", err)
	}

	var sessions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.rawDir, e.Name(), "metadata.json")); err == nil {
			sessions = append(sessions, e.Name())
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}

// ListProcessedSessions returns session ids that have a converted database.
func (s *Store) ListProcessedSessions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.processedDir, "*.db"))
	if err != nil {
		return nil, err
	}

	sessions := make([]string, 0, len(matches))
	for _, m := range matches {
		sessions = append(sessions, strings.TrimSuffix(filepath.Base(m), ".db"))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// RawSessionPath returns the directory of a raw session.
func (s *Store) RawSessionPath(sessionID string) string {
	return filepath.Join(s.rawDir, sessionID)
}

// ProcessedSessionPath returns the database path of a processed session.
func (s *Store) ProcessedSessionPath(sessionID string) string {
	return filepath.Join(s.processedDir, sessionID+".db")
}

// SessionExists reports whether a session exists, raw or processed.
func (s *Store) SessionExists(sessionID string, processed bool) bool {
	var path string
	if processed {
		path = s.ProcessedSessionPath(sessionID)
	} else {
		path = s.RawSessionPath(sessionID)
	}
	_, err := os.Stat(path)
	return err == nil
}

// SessionMetadata loads a raw session's metadata.json into a generic map.
func (s *Store) SessionMetadata(sessionID string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(s.RawSessionPath(sessionID), "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// DeleteSession removes one session, raw or processed. Returns true if
// something was deleted.
func (s *Store) DeleteSession(sessionID string, processed bool) (bool, error) {
	if processed {
		path := s.ProcessedSessionPath(sessionID)
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
		return true, os.Remove(path)
	}

	path := s.RawSessionPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	return true, os.RemoveAll(path)
}

// CleanupOlderThan deletes sessions older than the given number of days.
// Raw session age comes from metadata start_time, processed from file
// mtime. Returns the deleted session ids.
func (s *Store) CleanupOlderThan(days int) ([]string, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	var deleted []string

	raw, err := s.ListRawSessions()
	if err != nil {
		return nil, err
	}
	for _, id := range raw {
		meta, err := s.SessionMetadata(id)
		if err != nil {
			continue
		}
		startStr, _ := meta["start_time"].(string)
		start, err := parseSessionTime(startStr)
		if err != nil {
			continue
		}
		if start.Before(cutoff) {
			if _, err := s.DeleteSession(id, false); err != nil {
				return deleted, err
			}
			deleted = append(deleted, id)
		}
	}

	processed, err := s.ListProcessedSessions()
	if err != nil {
		return deleted, err
	}
	for _, id := range processed {
		info, err := os.Stat(s.ProcessedSessionPath(id))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if _, err := s.DeleteSession(id, true); err != nil {
				return deleted, err
			}
			deleted = append(deleted, id+" (processed)")
		}
	}

	return deleted, nil
}

// GenerateSessionID returns a timestamp-based session id, e.g.
// "session_2026-01-28_14-30-00".
func (s *Store) GenerateSessionID() string {
	return "session_" + time.Now().Format("2006-01-02_15-04-05")
}

func parseSessionTime(v string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time: %q", v)
}
