package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite persistence layer for merged files and their pins.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  hash            TEXT NOT NULL,
  text            TEXT NOT NULL,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pins (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  namespace       TEXT NOT NULL DEFAULT '',
  path            TEXT NOT NULL DEFAULT '',
  return_type     TEXT NOT NULL DEFAULT '',
  scope           TEXT NOT NULL DEFAULT 'instance',
  visibility      TEXT NOT NULL DEFAULT 'public',
  docstring       TEXT NOT NULL DEFAULT '',
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER,
  signature       TEXT NOT NULL DEFAULT '',
  nil_assigned    BOOLEAN DEFAULT FALSE,
  context_pin_id  INTEGER REFERENCES pins(id),
  receiver        TEXT NOT NULL DEFAULT '',
  param_index     INTEGER DEFAULT 0,
  superclass      TEXT NOT NULL DEFAULT '',
  includes        TEXT NOT NULL DEFAULT '[]',
  extends         TEXT NOT NULL DEFAULT '[]',
  parameters      TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pins_file ON pins(file_id);
CREATE INDEX IF NOT EXISTS idx_pins_name ON pins(name);
CREATE INDEX IF NOT EXISTS idx_pins_path ON pins(path);
CREATE INDEX IF NOT EXISTS idx_pins_kind ON pins(kind);
`

// DeleteFileData transactionally removes a file row and all of its pins.
func (s *Store) DeleteFileData(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := deleteFileTx(tx, fileID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFileByPath removes the file at path, if present. It reports whether
// a row was deleted.
func (s *Store) DeleteFileByPath(path string) (bool, error) {
	f, err := s.FileByPath(path)
	if err != nil || f == nil {
		return false, err
	}
	if err := s.DeleteFileData(f.ID); err != nil {
		return false, err
	}
	return true, nil
}

func deleteFileTx(tx *sql.Tx, fileID int64) error {
	// Children first: context_pin_id references rows in the same table.
	if _, err := tx.Exec("UPDATE pins SET context_pin_id = NULL WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "unlink pin contexts")
	}
	if _, err := tx.Exec("DELETE FROM pins WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "delete pins")
	}
	if _, err := tx.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return errors.Wrap(err, "delete file record")
	}
	return nil
}

// GetMetadata returns the value stored under key, or "" if none.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "get metadata %s", key)
	}
	return value, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "set metadata %s", key)
	}
	return nil
}
