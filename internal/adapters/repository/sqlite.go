package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yhlam/guildcore/internal/domain/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id         TEXT PRIMARY KEY,
	balance         INTEGER NOT NULL DEFAULT 0,
	lifetime_earned INTEGER NOT NULL DEFAULT 0,
	role_picks      TEXT NOT NULL DEFAULT '{}',
	rating_counts   TEXT NOT NULL DEFAULT '{}',
	attendance      TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL,
	last_active     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	delta   INTEGER NOT NULL,
	reason  TEXT NOT NULL,
	ts      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries (user_id, ts);
CREATE TABLE IF NOT EXISTS evaluation_events (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	creator         TEXT NOT NULL,
	phase           TEXT NOT NULL,
	signup_deadline INTEGER NOT NULL,
	participants    TEXT NOT NULL DEFAULT '{}',
	roles           TEXT NOT NULL DEFAULT '{}',
	ratings         TEXT NOT NULL DEFAULT '{}',
	handles         TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS giveaways (
	id           TEXT PRIMARY KEY,
	creator      TEXT NOT NULL,
	prize        TEXT NOT NULL,
	winner_count INTEGER NOT NULL,
	deadline     INTEGER NOT NULL,
	status       TEXT NOT NULL,
	participants TEXT NOT NULL DEFAULT '{}',
	winners      TEXT NOT NULL DEFAULT '[]',
	handle       TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);
`

// SQLiteStore persists records in a single SQLite file. Map-shaped fields
// are stored as JSON columns and validated on load.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed bootstraps) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Accounts returns the account store view.
func (s *SQLiteStore) Accounts() Accounts { return &sqliteAccounts{db: s.db} }

// Events returns the evaluation event store view.
func (s *SQLiteStore) Events() Events { return &sqliteEvents{db: s.db} }

// Giveaways returns the giveaway store view.
func (s *SQLiteStore) Giveaways() Giveaways { return &sqliteGiveaways{db: s.db} }

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64   { return t.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode record field: %w", err)
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode record field: %w", err)
	}
	return nil
}

type sqliteAccounts struct {
	db *sql.DB
}

func (s *sqliteAccounts) Get(ctx context.Context, userID string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance, lifetime_earned, role_picks, rating_counts, attendance, created_at, last_active
		 FROM accounts WHERE user_id = ?`, userID)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewAccount(userID, time.Now().UTC()), nil
	}
	return acct, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		acct                            model.Account
		picks, counts, attend           string
		createdAtMillis, lastActiveMill int64
	)
	if err := row.Scan(&acct.UserID, &acct.Balance, &acct.LifetimeEarned, &picks, &counts, &attend, &createdAtMillis, &lastActiveMill); err != nil {
		return model.Account{}, err
	}
	acct.RolePicks = make(map[model.Role]int)
	acct.RatingCounts = make(map[model.RatingKind]int)
	acct.Attendance = make(map[string]model.Attendance)
	if err := unmarshalJSON(picks, &acct.RolePicks); err != nil {
		return model.Account{}, err
	}
	if err := unmarshalJSON(counts, &acct.RatingCounts); err != nil {
		return model.Account{}, err
	}
	if err := unmarshalJSON(attend, &acct.Attendance); err != nil {
		return model.Account{}, err
	}
	acct.CreatedAt = fromMillis(createdAtMillis)
	acct.LastActive = fromMillis(lastActiveMill)
	return acct, nil
}

func (s *sqliteAccounts) Save(ctx context.Context, acct model.Account, entry *model.LedgerEntry) error {
	picks, err := marshalJSON(acct.RolePicks)
	if err != nil {
		return err
	}
	counts, err := marshalJSON(acct.RatingCounts)
	if err != nil {
		return err
	}
	attend, err := marshalJSON(acct.Attendance)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin account save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, lifetime_earned, role_picks, rating_counts, attendance, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   balance = excluded.balance,
		   lifetime_earned = excluded.lifetime_earned,
		   role_picks = excluded.role_picks,
		   rating_counts = excluded.rating_counts,
		   attendance = excluded.attendance,
		   last_active = excluded.last_active`,
		acct.UserID, acct.Balance, acct.LifetimeEarned, picks, counts, attend,
		toMillis(acct.CreatedAt), toMillis(acct.LastActive))
	if err != nil {
		return fmt.Errorf("save account %s: %w", acct.UserID, err)
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, user_id, delta, reason, ts) VALUES (?, ?, ?, ?, ?)`,
			entry.ID, entry.UserID, entry.Delta, entry.Reason, toMillis(entry.Timestamp))
		if err != nil {
			return fmt.Errorf("append ledger entry for %s: %w", entry.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit account save: %w", err)
	}
	return nil
}

func (s *sqliteAccounts) List(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, balance, lifetime_earned, role_picks, rating_counts, attendance, created_at, last_active
		 FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (s *sqliteAccounts) Entries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	query := `SELECT id, user_id, delta, reason, ts FROM ledger_entries WHERE user_id = ? ORDER BY ts DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			entry model.LedgerEntry
			ts    int64
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Delta, &entry.Reason, &ts); err != nil {
			return nil, err
		}
		entry.Timestamp = fromMillis(ts)
		out = append(out, entry)
	}
	return out, rows.Err()
}

type sqliteEvents struct {
	db *sql.DB
}

func (s *sqliteEvents) Get(ctx context.Context, id string) (model.EvaluationEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, creator, phase, signup_deadline, participants, roles, ratings, handles, created_at
		 FROM evaluation_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EvaluationEvent{}, ErrNotFound
	}
	return ev, err
}

func scanEvent(row rowScanner) (model.EvaluationEvent, error) {
	var (
		ev                                  model.EvaluationEvent
		participants, roles, ratings, hndls string
		deadline, createdAt                 int64
	)
	err := row.Scan(&ev.ID, &ev.Name, &ev.Creator, &ev.Phase, &deadline, &participants, &roles, &ratings, &hndls, &createdAt)
	if err != nil {
		return model.EvaluationEvent{}, err
	}
	ev.Participants = make(map[string]bool)
	ev.Roles = make(map[string]model.Role)
	ev.Ratings = make(map[string][]model.Rating)
	if err := unmarshalJSON(participants, &ev.Participants); err != nil {
		return model.EvaluationEvent{}, err
	}
	if err := unmarshalJSON(roles, &ev.Roles); err != nil {
		return model.EvaluationEvent{}, err
	}
	if err := unmarshalJSON(ratings, &ev.Ratings); err != nil {
		return model.EvaluationEvent{}, err
	}
	if err := unmarshalJSON(hndls, &ev.Handles); err != nil {
		return model.EvaluationEvent{}, err
	}
	ev.SignupDeadline = fromMillis(deadline)
	ev.CreatedAt = fromMillis(createdAt)
	return ev, nil
}

func (s *sqliteEvents) Save(ctx context.Context, ev model.EvaluationEvent) error {
	participants, err := marshalJSON(ev.Participants)
	if err != nil {
		return err
	}
	roles, err := marshalJSON(ev.Roles)
	if err != nil {
		return err
	}
	ratings, err := marshalJSON(ev.Ratings)
	if err != nil {
		return err
	}
	handles, err := marshalJSON(ev.Handles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluation_events (id, name, creator, phase, signup_deadline, participants, roles, ratings, handles, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   phase = excluded.phase,
		   participants = excluded.participants,
		   roles = excluded.roles,
		   ratings = excluded.ratings,
		   handles = excluded.handles`,
		ev.ID, ev.Name, ev.Creator, string(ev.Phase), toMillis(ev.SignupDeadline),
		participants, roles, ratings, handles, toMillis(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *sqliteEvents) Active(ctx context.Context) ([]model.EvaluationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, creator, phase, signup_deadline, participants, roles, ratings, handles, created_at
		 FROM evaluation_events WHERE phase != ?`, string(model.PhaseClosed))
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	defer rows.Close()

	var out []model.EvaluationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type sqliteGiveaways struct {
	db *sql.DB
}

func (s *sqliteGiveaways) Get(ctx context.Context, id string) (model.Giveaway, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, creator, prize, winner_count, deadline, status, participants, winners, handle, created_at
		 FROM giveaways WHERE id = ?`, id)
	gw, err := scanGiveaway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Giveaway{}, ErrNotFound
	}
	return gw, err
}

func scanGiveaway(row rowScanner) (model.Giveaway, error) {
	var (
		gw                             model.Giveaway
		participants, winners, handle  string
		deadlineMillis, createdAtMilli int64
	)
	err := row.Scan(&gw.ID, &gw.Creator, &gw.Prize, &gw.WinnerCount, &deadlineMillis, &gw.Status, &participants, &winners, &handle, &createdAtMilli)
	if err != nil {
		return model.Giveaway{}, err
	}
	gw.Participants = make(map[string]bool)
	if err := unmarshalJSON(participants, &gw.Participants); err != nil {
		return model.Giveaway{}, err
	}
	if err := unmarshalJSON(winners, &gw.Winners); err != nil {
		return model.Giveaway{}, err
	}
	if err := unmarshalJSON(handle, &gw.Handle); err != nil {
		return model.Giveaway{}, err
	}
	gw.Deadline = fromMillis(deadlineMillis)
	gw.CreatedAt = fromMillis(createdAtMilli)
	return gw, nil
}

func (s *sqliteGiveaways) Save(ctx context.Context, gw model.Giveaway) error {
	participants, err := marshalJSON(gw.Participants)
	if err != nil {
		return err
	}
	winners, err := marshalJSON(gw.Winners)
	if err != nil {
		return err
	}
	handle, err := marshalJSON(gw.Handle)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO giveaways (id, creator, prize, winner_count, deadline, status, participants, winners, handle, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   participants = excluded.participants,
		   winners = excluded.winners,
		   handle = excluded.handle`,
		gw.ID, gw.Creator, gw.Prize, gw.WinnerCount, toMillis(gw.Deadline), string(gw.Status),
		participants, winners, handle, toMillis(gw.CreatedAt))
	if err != nil {
		return fmt.Errorf("save giveaway %s: %w", gw.ID, err)
	}
	return nil
}

func (s *sqliteGiveaways) Active(ctx context.Context) ([]model.Giveaway, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, creator, prize, winner_count, deadline, status, participants, winners, handle, created_at
		 FROM giveaways WHERE status = ?`, string(model.GiveawayOpen))
	if err != nil {
		return nil, fmt.Errorf("list active giveaways: %w", err)
	}
	defer rows.Close()

	var out []model.Giveaway
	for rows.Next() {
		gw, err := scanGiveaway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gw)
	}
	return out, rows.Err()
}
