// Package marketdata materializes per-symbol daily frames for the engine:
// an sqlite-backed bar store, go-talib indicator enrichment, a msgpack frame
// cache, and universe selection.
package marketdata

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/quantlab/ashare-backtest/internal/database"
	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS securities (
	symbol TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS index_members (
	index_code TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	rank       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (index_code, symbol)
);

CREATE TABLE IF NOT EXISTS daily_bars (
	symbol    TEXT NOT NULL,
	date      TEXT NOT NULL,
	open      REAL NOT NULL DEFAULT 0,
	high      REAL NOT NULL DEFAULT 0,
	low       REAL NOT NULL DEFAULT 0,
	close     REAL NOT NULL DEFAULT 0,
	pre_close REAL NOT NULL DEFAULT 0,
	volume    REAL NOT NULL DEFAULT 0,
	amount    REAL NOT NULL DEFAULT 0,
	suspended INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars(date);
`

// Store is the sqlite repository for securities, index membership and
// daily bars.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore opens (or creates) the bar store and applies the schema.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "bar_store").Logger(),
	}
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply bar store schema: %w", err)
	}
	return s, nil
}

// UpsertSecurity registers a symbol with its display name.
func (s *Store) UpsertSecurity(symbol, name string) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO securities (symbol, name) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET name = excluded.name`,
		symbol, name)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", symbol, err)
	}
	return nil
}

// SetIndexMembers replaces the membership list of an index.
func (s *Store) SetIndexMembers(indexCode string, symbols []string) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin index member update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM index_members WHERE index_code = ?`, indexCode); err != nil {
		return fmt.Errorf("failed to clear index members: %w", err)
	}
	for rank, symbol := range symbols {
		if _, err := tx.Exec(`
			INSERT INTO index_members (index_code, symbol, rank) VALUES (?, ?, ?)`,
			indexCode, symbol, rank); err != nil {
			return fmt.Errorf("failed to insert index member %s: %w", symbol, err)
		}
	}
	return tx.Commit()
}

// IndexMembers returns the member symbols of an index in rank order.
func (s *Store) IndexMembers(indexCode string) ([]string, error) {
	rows, err := s.db.Conn().Query(`
		SELECT symbol FROM index_members WHERE index_code = ? ORDER BY rank`, indexCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query index members: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan index member: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// Symbols returns every symbol with stored bars, in symbol order.
func (s *Store) Symbols() ([]string, error) {
	rows, err := s.db.Conn().Query(`SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// InsertBars writes a batch of bars for one symbol, replacing duplicates.
func (s *Store) InsertBars(symbol string, bars []domain.DailyBar) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bar insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars
			(symbol, date, open, high, low, close, pre_close, volume, amount, suspended)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		suspended := 0
		if bar.Suspended {
			suspended = 1
		}
		if _, err := stmt.Exec(symbol, bar.Date, bar.Open, bar.High, bar.Low,
			bar.Close, bar.PreClose, bar.Volume, bar.Amount, suspended); err != nil {
			return fmt.Errorf("failed to insert bar %s/%s: %w", symbol, bar.Date, err)
		}
	}
	return tx.Commit()
}

// LoadFrame reads one symbol's bars for the inclusive date range, ascending.
// The security name, when known, sets the frame name and the ST flag on
// every bar.
func (s *Store) LoadFrame(symbol, start, end string) (*domain.DailyFrame, error) {
	var name string
	err := s.db.Conn().QueryRow(`SELECT name FROM securities WHERE symbol = ?`, symbol).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query security name for %s: %w", symbol, err)
	}

	rows, err := s.db.Conn().Query(`
		SELECT date, open, high, low, close, pre_close, volume, amount, suspended
		FROM daily_bars
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	isST := domain.IsSTName(name)
	frame := &domain.DailyFrame{Symbol: symbol, Name: name}
	for rows.Next() {
		var bar domain.DailyBar
		var suspended int
		if err := rows.Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.PreClose, &bar.Volume, &bar.Amount, &suspended); err != nil {
			return nil, fmt.Errorf("failed to scan bar for %s: %w", symbol, err)
		}
		bar.Suspended = suspended != 0
		bar.IsST = isST
		frame.Bars = append(frame.Bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Backfill pre_close from the prior close when the source omitted it.
	for i := range frame.Bars {
		if frame.Bars[i].PreClose == 0 && i > 0 {
			frame.Bars[i].PreClose = frame.Bars[i-1].Close
		}
	}

	return frame, nil
}

// ImportCSV loads bars from a CSV file with the header
// symbol,date,open,high,low,close,pre_close,volume,amount. Used to seed the
// store from exported datasets and test fixtures.
func (s *Store) ImportCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open CSV %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 9 {
		return 0, fmt.Errorf("unexpected CSV header in %s: %v", path, header)
	}

	count := 0
	bySymbol := make(map[string][]domain.DailyBar)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read CSV record: %w", err)
		}

		bar := domain.DailyBar{Date: record[1]}
		bar.Open = parseFloat(record[2])
		bar.High = parseFloat(record[3])
		bar.Low = parseFloat(record[4])
		bar.Close = parseFloat(record[5])
		bar.PreClose = parseFloat(record[6])
		bar.Volume = parseFloat(record[7])
		bar.Amount = parseFloat(record[8])
		bySymbol[record[0]] = append(bySymbol[record[0]], bar)
		count++
	}

	for symbol, bars := range bySymbol {
		if err := s.InsertBars(symbol, bars); err != nil {
			return count, err
		}
	}

	s.log.Info().Str("path", path).Int("bars", count).Msg("CSV import complete")
	return count, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
