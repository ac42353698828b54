package database

import (
	"database/sql"
	"regexp"
	"strconv"
)

// Dialect defines the interface for database-specific operations
type Dialect interface {
	// Name identifies the dialect in logs and backups
	Name() string

	// DriverName returns the driver name for sql.Open
	DriverName() string

	// DSN returns the data source name for the connection
	DSN(config DialectConfig) string

	// RewriteQuery converts placeholder syntax if needed (e.g., ? to $1 for postgres)
	RewriteQuery(query string) string

	// ConfigureConnection applies any database-specific connection settings
	ConfigureConnection(db *sql.DB) error

	// MigrationsSubdir returns the subdirectory name for migrations (e.g., "sqlite", "postgres")
	MigrationsSubdir() string

	// CreateMigrationsTableQuery returns the SQL to create the migrations tracking table
	CreateMigrationsTableQuery() string

	// IsUniqueViolation reports whether err is the driver's unique/primary key
	// constraint error. The ledger relies on this to detect duplicate grants.
	IsUniqueViolation(err error) bool

	// UpsertProgressQuery returns the insert-or-update statement for daily_task_progress
	UpsertProgressQuery() string

	// ForUpdateClause is appended to a single-row SELECT that precedes a
	// read-modify-write inside a transaction. Empty where the transaction
	// already holds the write lock.
	ForUpdateClause() string
}

// DialectConfig holds configuration for database connection
type DialectConfig struct {
	// For SQLite
	Path string

	// For PostgreSQL/MySQL
	URL string
}

// placeholderRegexp matches ? placeholders
var placeholderRegexp = regexp.MustCompile(`\?`)

// rewritePlaceholdersToNumbered converts ? placeholders to $1, $2, etc.
func rewritePlaceholdersToNumbered(query string) string {
	counter := 0
	return placeholderRegexp.ReplaceAllStringFunc(query, func(match string) string {
		counter++
		return "$" + strconv.Itoa(counter)
	})
}

// progressColumns is the column list shared by every dialect's upsert
const progressColumns = `id, user_id, progress_date, assignments, completed_task_ids, skipped_task_ids,
			total_xp_earned, total_attribute_gains, used_source_ids, streak, ephemeral, created_at, updated_at`

// progressUpdated lists the columns an upsert overwrites
var progressUpdated = []string{
	"assignments", "completed_task_ids", "skipped_task_ids", "total_xp_earned",
	"total_attribute_gains", "used_source_ids", "streak", "ephemeral", "updated_at",
}
