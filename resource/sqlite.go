package resource

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps resources as blobs in a SQLite database, keyed by
// resource path.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenSQLiteStore opens or creates the database at dbPath.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS resources (
		path TEXT PRIMARY KEY,
		data BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores data under path, replacing any previous contents.
func (s *SQLiteStore) Put(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO resources (path, data) VALUES (?, ?)", path, data)
	if err != nil {
		return fmt.Errorf("saving resource %s: %w", path, err)
	}
	return nil
}

// Delete removes path. Deleting a missing path is not an error.
func (s *SQLiteStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM resources WHERE path = ?", path); err != nil {
		return fmt.Errorf("deleting resource %s: %w", path, err)
	}
	return nil
}

// Paths lists every stored resource path in order.
func (s *SQLiteStore) Paths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM resources ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("listing resources: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// LoadResource implements vm.ResourceLoader.
func (s *SQLiteStore) LoadResource(path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM resources WHERE path = ?", path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("querying resource %s: %w", path, err)
	}
	return data, nil
}

// Import copies every path in paths from src into the store.
func (s *SQLiteStore) Import(src Loader, paths []string) error {
	for _, p := range paths {
		data, err := src.LoadResource(p)
		if err != nil {
			return err
		}
		if err := s.Put(p, data); err != nil {
			return err
		}
	}
	return nil
}
