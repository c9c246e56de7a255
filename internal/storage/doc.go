// Package storage is the subscriber store.
//
// A subscriber record holds the contact address, topic preferences, goal,
// timezone label, the generated prompt collection and the rotation cursor.
//
// Drivers:
//   - "file": dependency-free JSON snapshot + append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL (lib/pq)
package storage
