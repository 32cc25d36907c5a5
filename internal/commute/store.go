// Package commute keeps a per-user daily log of morning and evening bus
// pickup and arrival times.
package commute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bus-tracker/internal/apperr"
)

var (
	ErrInvalidUser = apperr.New("user id is required", apperr.ErrInvalidInput)
	ErrInvalidKind = apperr.New("type must be morning or evening", apperr.ErrInvalidInput)
	ErrInvalidTime = apperr.New("time must look like 7:45 AM", apperr.ErrInvalidInput)
	ErrLogNotFound = apperr.New("no log found", apperr.ErrNotFound)
)

type Kind string

const (
	Morning Kind = "morning"
	Evening Kind = "evening"
)

// columns maps a trip kind to its pickup and arrival columns.
var columns = map[Kind][2]string{
	Morning: {"morning_pickup", "morning_arrival"},
	Evening: {"evening_pickup", "evening_arrival"},
}

// Trip is one pickup/arrival pair. Pickup and Arrival are 12-hour clock
// strings such as "7:45 AM". From and To name the boarding and alighting
// stops and may be left empty.
type Trip struct {
	Kind    Kind
	Pickup  string
	Arrival string
	From    string
	To      string
}

// Log is one user's entries for a single day. Times are HH:MM, nil when unset.
type Log struct {
	UserID         string  `json:"-"`
	Date           string  `json:"-"`
	MorningPickup  *string `json:"morningPickup"`
	MorningArrival *string `json:"morningArrival"`
	EveningPickup  *string `json:"eveningPickup"`
	EveningArrival *string `json:"eveningArrival"`
	From           *string `json:"from"`
	To             *string `json:"to"`
}

type Store struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, loc *time.Location) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db, loc)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database and applies the schema.
func New(ctx context.Context, db *sql.DB, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{db: db, loc: loc, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock overrides the clock used to pick "today".
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS bus_logs (
	user_id          TEXT NOT NULL,
	date             TEXT NOT NULL,
	morning_pickup   TEXT,
	morning_arrival  TEXT,
	evening_pickup   TEXT,
	evening_arrival  TEXT,
	from_stop        TEXT,
	to_stop          TEXT,
	created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	PRIMARY KEY (user_id, date)
)`)
	if err != nil {
		return fmt.Errorf("migrate bus_logs: %w", err)
	}
	return nil
}

func (s *Store) today() string { return s.now().In(s.loc).Format("2006-01-02") }

// Record sets today's pickup and arrival for the trip's kind, leaving the
// other kind untouched. From and To are day-level; a blank value keeps what
// was recorded earlier.
func (s *Store) Record(ctx context.Context, userID string, trip Trip) (Log, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Log{}, ErrInvalidUser
	}
	cols, ok := columns[trip.Kind]
	if !ok {
		return Log{}, fmt.Errorf("%q: %w", trip.Kind, ErrInvalidKind)
	}
	p, err := ParseClock(trip.Pickup)
	if err != nil {
		return Log{}, fmt.Errorf("pickup: %w", err)
	}
	a, err := ParseClock(trip.Arrival)
	if err != nil {
		return Log{}, fmt.Errorf("arrival: %w", err)
	}

	q := fmt.Sprintf(`
INSERT INTO bus_logs (user_id, date, %[1]s, %[2]s, from_stop, to_stop)
VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))
ON CONFLICT (user_id, date) DO UPDATE SET
	%[1]s = excluded.%[1]s,
	%[2]s = excluded.%[2]s,
	from_stop = COALESCE(excluded.from_stop, bus_logs.from_stop),
	to_stop = COALESCE(excluded.to_stop, bus_logs.to_stop),
	updated_at = strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')`, cols[0], cols[1])
	date := s.today()
	from, to := strings.TrimSpace(trip.From), strings.TrimSpace(trip.To)
	if _, err := s.db.ExecContext(ctx, q, userID, date, p, a, from, to); err != nil {
		return Log{}, fmt.Errorf("upsert bus_log: %w", err)
	}
	return s.get(ctx, userID, date)
}

// Today returns the user's log for the current local date.
func (s *Store) Today(ctx context.Context, userID string) (Log, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Log{}, ErrInvalidUser
	}
	return s.get(ctx, userID, s.today())
}

func (s *Store) get(ctx context.Context, userID, date string) (Log, error) {
	l := Log{UserID: userID, Date: date}
	var mp, ma, ep, ea, from, to sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT morning_pickup, morning_arrival, evening_pickup, evening_arrival, from_stop, to_stop
FROM bus_logs WHERE user_id = ? AND date = ?`, userID, date).Scan(&mp, &ma, &ep, &ea, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return Log{}, ErrLogNotFound
	}
	if err != nil {
		return Log{}, fmt.Errorf("query bus_log: %w", err)
	}
	l.MorningPickup = nullable(mp)
	l.MorningArrival = nullable(ma)
	l.EveningPickup = nullable(ep)
	l.EveningArrival = nullable(ea)
	l.From = nullable(from)
	l.To = nullable(to)
	return l, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// ParseClock converts "h:mm AM" / "h:mm PM" to 24-hour "HH:MM".
func ParseClock(s string) (string, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	hm := strings.SplitN(fields[0], ":", 2)
	if len(hm) != 2 || len(hm[1]) != 2 {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	h, err1 := strconv.Atoi(hm[0])
	m, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil || h < 1 || h > 12 || m < 0 || m > 59 {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	switch strings.ToLower(fields[1]) {
	case "am":
		if h == 12 {
			h = 0
		}
	case "pm":
		if h != 12 {
			h += 12
		}
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}
