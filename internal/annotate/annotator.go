package annotate

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/convert"
)

// Categories an annotator can assign, keyed by the keyboard shortcut.
var Categories = map[string]string{
	"1": "A classifier",
	"2": "Publicité",
	"3": "Radio",
	"4": "Impossible à classifier",
}

// block mirrors one row of the blocks table.
type block struct {
	Number        int
	Timestamp     string
	AudioPath     string
	Transcription string
	Category      string
}

// Annotator is the keyboard-driven classification interface over a
// converted session database.
type Annotator struct {
	db     *sql.DB
	player *Player // nil disables playback
	in     *bufio.Scanner
	out    io.Writer
	log    zerolog.Logger

	sessionID string
	current   int
	total     int
}

// New opens the session database. player may be nil in headless
// environments; playback commands then print a notice instead.
func New(dbPath string, player *Player, logger zerolog.Logger) (*Annotator, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Annotator{
		db:     db,
		player: player,
		in:     bufio.NewScanner(os.Stdin),
		out:    os.Stdout,
		log:    logger,
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM blocks").Scan(&a.total); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count blocks: %w", err)
	}
	// Session id is informational only, missing metadata is tolerated.
	db.QueryRow("SELECT value FROM metadata WHERE key = 'session_id'").Scan(&a.sessionID)

	logger.Info().Str("session", a.sessionID).Int("blocks", a.total).Msg("Annotator initialized")
	return a, nil
}

// Run drives the interactive loop until the user quits or every block is
// annotated.
func (a *Annotator) Run() error {
	defer a.db.Close()

	a.showWelcome()

	first, ok, err := a.firstUnannotated()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "\n✓ All blocks have been annotated!")
		return nil
	}
	a.current = first

	for {
		if err := a.displayBlock(a.current); err != nil {
			return err
		}

		fmt.Fprint(a.out, "\nCommande: ")
		if !a.in.Scan() {
			break
		}
		command := strings.ToLower(strings.TrimSpace(a.in.Text()))

		if !a.handleCommand(command) {
			break
		}
	}

	a.showSummary()
	a.log.Info().Msg("Annotation session ended")
	return nil
}

// handleCommand executes one command and reports whether to keep running.
func (a *Annotator) handleCommand(command string) bool {
	if category, ok := Categories[command]; ok {
		if err := a.classify(a.current, category); err != nil {
			a.log.Error().Err(err).Int("block", a.current).Msg("Failed to classify block")
		}
		a.next()
		return true
	}

	switch command {
	case "n", "next", "s", "suivant":
		a.next()
	case "p", "prev", "previous", "precedent":
		a.previous()
	case "r", "replay":
		a.playCurrent()
	case "u":
		if n, ok, err := a.firstUnannotated(); err == nil && ok {
			a.current = n
		} else {
			fmt.Fprintln(a.out, "\n✓ All blocks have been annotated!")
		}
	case "stats":
		a.showStats()
	case "q", "quit", "quitter":
		return false
	default:
		if strings.HasPrefix(command, "g") {
			if n, err := strconv.Atoi(command[1:]); err == nil {
				a.goTo(n)
			} else {
				fmt.Fprintln(a.out, "Format invalide. Utilisez: g<numéro> (ex: g42)")
			}
		}
	}
	return true
}

func (a *Annotator) next() {
	if a.current < a.total-1 {
		a.current++
	}
}

func (a *Annotator) previous() {
	if a.current > 0 {
		a.current--
	}
}

func (a *Annotator) goTo(n int) {
	if n >= 0 && n < a.total {
		a.current = n
	} else {
		fmt.Fprintf(a.out, "Bloc %d hors limites (0-%d)\n", n, a.total-1)
	}
}

func (a *Annotator) playCurrent() {
	if a.player == nil {
		fmt.Fprintln(a.out, "(lecture audio indisponible)")
		return
	}
	b, err := a.getBlock(a.current)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to load block for playback")
		return
	}
	if err := a.player.Play(b.AudioPath); err != nil {
		a.log.Error().Err(err).Str("path", b.AudioPath).Msg("Playback failed")
	}
}

func (a *Annotator) classify(blockNumber int, category string) error {
	_, err := a.db.Exec(
		"UPDATE blocks SET category = ? WHERE block_number = ?",
		category, blockNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	a.log.Debug().Int("block", blockNumber).Str("category", category).Msg("Block classified")
	return nil
}

func (a *Annotator) getBlock(blockNumber int) (*block, error) {
	b := &block{}
	err := a.db.QueryRow(`
		SELECT block_number, timestamp, audio_path, transcription, category
		FROM blocks WHERE block_number = ?`, blockNumber,
	).Scan(&b.Number, &b.Timestamp, &b.AudioPath, &b.Transcription, &b.Category)
	if err != nil {
		return nil, fmt.Errorf("block %d not found: %w", blockNumber, err)
	}
	return b, nil
}

// firstUnannotated returns the lowest block number still in the default
// category, or ok=false when everything is annotated.
func (a *Annotator) firstUnannotated() (int, bool, error) {
	var n sql.NullInt64
	err := a.db.QueryRow(
		"SELECT MIN(block_number) FROM blocks WHERE category = ?",
		convert.DefaultCategory,
	).Scan(&n)
	if err != nil {
		return 0, false, err
	}
	if !n.Valid {
		return 0, false, nil
	}
	return int(n.Int64), true, nil
}

func (a *Annotator) categoryCounts() (map[string]int, error) {
	rows, err := a.db.Query("SELECT category, COUNT(*) FROM blocks GROUP BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

func (a *Annotator) displayBlock(blockNumber int) error {
	b, err := a.getBlock(blockNumber)
	if err != nil {
		return err
	}

	fmt.Fprint(a.out, "\033[2J\033[H")
	fmt.Fprintf(a.out, "Session: %s — Bloc %d/%d\n", a.sessionID, b.Number, a.total-1)
	fmt.Fprintf(a.out, "Horodatage: %s\n", b.Timestamp)
	fmt.Fprintf(a.out, "Catégorie: %s\n\n", b.Category)
	fmt.Fprintf(a.out, "Transcription:\n%s\n\n", b.Transcription)
	fmt.Fprintln(a.out, "Catégories: [1] A classifier  [2] Publicité  [3] Radio  [4] Impossible à classifier")
	fmt.Fprintln(a.out, "Navigation: [n]ext  [p]rev  [g<N>]  [r]eplay  [u]nannotated  [stats]  [q]uit")
	return nil
}

func (a *Annotator) showWelcome() {
	fmt.Fprintf(a.out, "\nAnnotation de la session %s (%d blocs)\n", a.sessionID, a.total)
}

func (a *Annotator) showStats() {
	counts, err := a.categoryCounts()
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to compute stats")
		return
	}
	fmt.Fprintln(a.out, "\nRépartition:")
	for category, count := range counts {
		fmt.Fprintf(a.out, "  %-26s %d\n", category, count)
	}
	fmt.Fprint(a.out, "\nAppuyez sur Entrée pour continuer...")
	a.in.Scan()
}

func (a *Annotator) showSummary() {
	counts, err := a.categoryCounts()
	if err != nil {
		return
	}
	remaining := counts[convert.DefaultCategory]
	fmt.Fprintf(a.out, "\nAnnotation terminée: %d/%d blocs classifiés\n", a.total-remaining, a.total)
}
