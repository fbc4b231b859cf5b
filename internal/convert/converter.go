package convert

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/storage"
)

// Converter turns raw session directories (optimized for fast sequential
// writes) into per-session SQLite databases (optimized for annotation
// queries).
type Converter struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewConverter(store *storage.Store, logger zerolog.Logger) *Converter {
	return &Converter{store: store, log: logger}
}

// ConvertSession builds <session>.db from a raw session. An existing
// database is kept unless force is set. Returns the database path.
func (c *Converter) ConvertSession(sessionID string, force bool) (string, error) {
	if !c.store.SessionExists(sessionID, false) {
		return "", fmt.Errorf("raw session not found: %s", sessionID)
	}

	dbPath := c.store.ProcessedSessionPath(sessionID)
	if _, err := os.Stat(dbPath); err == nil && !force {
		c.log.Info().Str("session", sessionID).Msg("Session already converted")
		return dbPath, nil
	}

	c.log.Info().Str("session", sessionID).Msg("Converting session")

	reader, err := NewSessionReader(c.store.RawSessionPath(sessionID))
	if err != nil {
		return "", err
	}

	metadata, err := reader.Metadata()
	if err != nil {
		return "", err
	}

	if err := c.createDatabase(dbPath, metadata, reader); err != nil {
		return "", err
	}

	c.log.Info().Str("path", dbPath).Msg("Session converted")
	return dbPath, nil
}

func (c *Converter) createDatabase(dbPath string, metadata map[string]any, reader *SessionReader) error {
	// Rebuild from scratch
	os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createSchema(tx); err != nil {
		return err
	}

	for key, value := range metadata {
		if _, err := tx.Exec(
			"INSERT INTO metadata (key, value) VALUES (?, ?)",
			key, fmt.Sprint(value),
		); err != nil {
			return fmt.Errorf("failed to insert metadata: %w", err)
		}
	}

	blocks, err := reader.Blocks()
	if err != nil {
		return err
	}
	for _, block := range blocks {
		if _, err := tx.Exec(`
			INSERT INTO blocks (block_number, timestamp, audio_path, transcription, category)
			VALUES (?, ?, ?, ?, ?)`,
			block.Number,
			block.Timestamp.Format("2006-01-02T15:04:05"),
			block.AudioPath,
			block.Transcription,
			DefaultCategory,
		); err != nil {
			return fmt.Errorf("failed to insert block %d: %w", block.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	c.log.Info().Int("blocks", len(blocks)).Msg("Inserted blocks into database")
	return nil
}

func createSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE blocks (
			block_number INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			audio_path TEXT NOT NULL,
			transcription TEXT,
			category TEXT DEFAULT 'A classifier'
		)`,
		`CREATE INDEX idx_category ON blocks(category)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// ListUnconverted returns raw session ids with no processed database.
func (c *Converter) ListUnconverted() ([]string, error) {
	raw, err := c.store.ListRawSessions()
	if err != nil {
		return nil, err
	}
	processed, err := c.store.ListProcessedSessions()
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(processed))
	for _, id := range processed {
		done[id] = true
	}

	var unconverted []string
	for _, id := range raw {
		if !done[id] {
			unconverted = append(unconverted, id)
		}
	}
	return unconverted, nil
}

// ConvertAll converts every unconverted session (or every session with
// force). Failures are logged per session; the rest continue.
func (c *Converter) ConvertAll(force bool) ([]string, error) {
	var sessions []string
	var err error
	if force {
		sessions, err = c.store.ListRawSessions()
	} else {
		sessions, err = c.ListUnconverted()
	}
	if err != nil {
		return nil, err
	}

	var converted []string
	for _, id := range sessions {
		dbPath, err := c.ConvertSession(id, force)
		if err != nil {
			c.log.Error().Err(err).Str("session", id).Msg("Failed to convert session")
			continue
		}
		converted = append(converted, dbPath)
	}

	c.log.Info().
		Int("converted", len(converted)).
		Int("total", len(sessions)).
		Msg("Conversion finished")
	return converted, nil
}
