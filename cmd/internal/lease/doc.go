// Package lease persists authorization codes and their room leases.
//
// It is pure data access: every mutation is a single conditional statement
// against the backing table, and no admission policy lives here. The
// admission package decides what to call and when.
//
// Three backends share the Store contract:
//   - PostgresStore (pgxpool) for production,
//   - SQLiteStore (modernc.org/sqlite) for single-node deployments,
//   - InMemoryStore for dev runs without a database.
package lease
