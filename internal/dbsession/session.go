// Package dbsession defines the narrow contract the monitor, topoquery,
// and failover packages require of a database connection. The concrete SQL
// driver that issues queries and owns the wire protocol is an external
// collaborator (spec.md §1); this package only names the shape that
// collaborator must satisfy.
package dbsession

import "context"

// Row is the result of a single-row query, mirroring database/sql.Row's
// Scan contract so a *sql.DB-backed Session can satisfy this package
// without an adapter shim.
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a multi-row query result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Session is an open connection to one database node.
type Session interface {
	// Connect opens the underlying connection using connStr. Calling
	// Connect on an already-connected Session is implementation-defined;
	// callers in this module always Close before reconnecting.
	Connect(ctx context.Context, connStr string) error

	// Query executes a query expected to return rows.
	Query(ctx context.Context, query string) (Rows, error)

	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, query string) Row

	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection. Close on an unconnected
	// or already-closed Session is a no-op.
	Close() error
}

// Factory constructs a new, unconnected Session. Production callers inject
// a factory backed by a concrete SQL driver; tests inject a fake.
type Factory func() Session
