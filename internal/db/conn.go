package db

import "strings"

// IsPostgresURL reports whether databaseURL points at PostgreSQL rather than
// a SQLite file.
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}
