package database

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"testing"
)

// fakeResult is what the fake driver answers for one query.
type fakeResult struct {
	columns []string
	rows    [][]driver.Value
	err     error
}

// fakeDB answers queries from a fixed table keyed by the exact SQL text and
// records every statement it runs.
type fakeDB struct {
	mu      sync.Mutex
	results map[string]fakeResult
	queries []string
}

func (f *fakeDB) run(query string) (fakeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, query)
	res, ok := f.results[query]
	if !ok {
		return fakeResult{}, fmt.Errorf("unexpected query: %s", query)
	}
	return res, res.err
}

func (f *fakeDB) ran(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, q := range f.queries {
		if q == query {
			n++
		}
	}
	return n
}

var (
	fakeDriverOnce sync.Once
	fakeDBs        sync.Map
)

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	db, ok := fakeDBs.Load(name)
	if !ok {
		return nil, fmt.Errorf("no fake database %q", name)
	}
	return &fakeConn{db: db.(*fakeDB)}, nil
}

type fakeConn struct {
	db *fakeDB
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{db: c.db, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeStmt struct {
	db    *fakeDB
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	res, err := s.db.run(s.query)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(len(res.rows)), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	res, err := s.db.run(s.query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: res.columns, rows: res.rows}, nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

// newFakeRepository returns a repository backed by the fake driver, answering
// queries from results.
func newFakeRepository(t *testing.T, results map[string]fakeResult) (*PgRepository, *fakeDB) {
	t.Helper()
	fakeDriverOnce.Do(func() {
		sql.Register("fakepg", fakeDriver{})
	})

	fdb := &fakeDB{results: results}
	fakeDBs.Store(t.Name(), fdb)
	t.Cleanup(func() {
		fakeDBs.Delete(t.Name())
	})

	conn, err := sql.Open("fakepg", t.Name())
	if err != nil {
		t.Fatalf("open fake database: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return &PgRepository{conn: conn}, fdb
}
