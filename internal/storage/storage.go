package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

const (
	settingNickname  = "nickname"
	settingBirthDate = "birthDate"
	settingListID    = "listId"
)

// Profile is what the setup form collects, plus the last opened shared list.
type Profile struct {
	Nickname  string
	BirthDate string
	ListID    string
}

// Store is the local persistence: one JSON task list per stage key and a
// small settings table.
type Store struct {
	db  *sql.DB
	now stage.Clock
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	ddl := []string{`
CREATE TABLE IF NOT EXISTS stage_lists (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS settings (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.ensureListColumns()
}

func (s *Store) ensureListColumns() error {
	required := map[string]string{
		"updated_at": "ALTER TABLE stage_lists ADD COLUMN updated_at TEXT NOT NULL DEFAULT '';",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(stage_lists);`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the saved list for st. It reports false on the first visit.
func (s *Store) Read(ctx context.Context, st stage.Stage) ([]todo.Task, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM stage_lists WHERE key = ?;`, st.Key()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var tasks []todo.Task
	if err := json.Unmarshal([]byte(payload), &tasks); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", st.Key(), err)
	}
	return todo.Clone(tasks), true, nil
}

func (s *Store) Write(ctx context.Context, st stage.Stage, tasks []todo.Task) error {
	payload, err := json.Marshal(todo.Clone(tasks))
	if err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO stage_lists (key, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at;`,
		st.Key(), string(payload), now)
	return err
}

func (s *Store) Profile(ctx context.Context) (Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings;`)
	if err != nil {
		return Profile{}, err
	}
	defer rows.Close()

	var p Profile
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Profile{}, err
		}
		switch name {
		case settingNickname:
			p.Nickname = value
		case settingBirthDate:
			p.BirthDate = value
		case settingListID:
			p.ListID = value
		}
	}
	if err := rows.Err(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// SaveProfile stores the setup form. Both fields are required.
func (s *Store) SaveProfile(ctx context.Context, nickname, birthDate string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return errors.New("nickname is empty")
	}
	if _, err := stage.ParseDate(birthDate); err != nil {
		return fmt.Errorf("birth date: %w", err)
	}
	if err := s.setSetting(ctx, settingNickname, nickname); err != nil {
		return err
	}
	return s.setSetting(ctx, settingBirthDate, strings.TrimSpace(birthDate))
}

func (s *Store) SetBirthDate(ctx context.Context, birthDate string) error {
	if _, err := stage.ParseDate(birthDate); err != nil {
		return fmt.Errorf("birth date: %w", err)
	}
	return s.setSetting(ctx, settingBirthDate, strings.TrimSpace(birthDate))
}

// SetListID remembers the shared list to open on the next launch. An empty
// id forgets it.
func (s *Store) SetListID(ctx context.Context, id string) error {
	return s.setSetting(ctx, settingListID, strings.TrimSpace(id))
}

func (s *Store) setSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value;`, name, value)
	return err
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
