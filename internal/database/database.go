package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Wanchah/EcoEdu/internal/logger"
)

type DB struct {
	*sqlx.DB
	driver string
}

// NewDB opens a connection for the given driver ("sqlite3" or "postgres") and
// makes sure the schema exists.
func NewDB(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if dsn == "" && driver == "sqlite3" {
		dsn = "ecoedu.db" // Default SQLite file
	}

	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; funnel everything through one connection
	// so concurrent awards queue instead of failing with SQLITE_BUSY.
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbWrapper := &DB{DB: db, driver: driver}

	// Initialize database schema
	if err := dbWrapper.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.New().With("driver", driver).Info("Database connection established and tables initialized")
	return dbWrapper, nil
}

// Driver reports the name the connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// createTables creates the necessary database tables
func (db *DB) createTables(ctx context.Context) error {
	ledgerTable := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		user_id TEXT PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		level INTEGER NOT NULL DEFAULT 1,
		reports_submitted INTEGER NOT NULL DEFAULT 0,
		lessons_completed INTEGER NOT NULL DEFAULT 0,
		comments_posted INTEGER NOT NULL DEFAULT 0,
		reports_resolved INTEGER NOT NULL DEFAULT 0,
		waste_reduced DOUBLE PRECISION NOT NULL DEFAULT 0,
		trees_planted DOUBLE PRECISION NOT NULL DEFAULT 0,
		water_saved DOUBLE PRECISION NOT NULL DEFAULT 0,
		co2_reduced DOUBLE PRECISION NOT NULL DEFAULT 0,
		streak INTEGER NOT NULL DEFAULT 0,
		last_active_date TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`

	taskSetsTable := `
	CREATE TABLE IF NOT EXISTS daily_task_sets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date_key TEXT NOT NULL,
		completed_count INTEGER NOT NULL DEFAULT 0,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, date_key)
	);`

	taskInstancesTable := `
	CREATE TABLE IF NOT EXISTS daily_task_instances (
		id TEXT PRIMARY KEY,
		set_id TEXT NOT NULL REFERENCES daily_task_sets(id) ON DELETE CASCADE,
		sort_order INTEGER NOT NULL,
		template_key TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		target INTEGER NOT NULL CHECK (target > 0),
		current_count INTEGER NOT NULL DEFAULT 0 CHECK (current_count >= 0),
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		reward_points INTEGER NOT NULL DEFAULT 0 CHECK (reward_points >= 0)
	);`

	lessonProgressTable := `
	CREATE TABLE IF NOT EXISTS lesson_progress (
		user_id TEXT PRIMARY KEY,
		lesson_ids TEXT NOT NULL DEFAULT '[]',
		completed_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);`

	challengesTable := `
	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		type TEXT NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		target INTEGER NOT NULL CHECK (target > 0),
		current_progress INTEGER NOT NULL DEFAULT 0,
		metric TEXT NOT NULL,
		reward_points INTEGER NOT NULL DEFAULT 0,
		reward_badge TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	);`

	participantsTable := `
	CREATE TABLE IF NOT EXISTS challenge_participants (
		challenge_id TEXT NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		contribution INTEGER NOT NULL DEFAULT 0,
		joined_at TIMESTAMP NOT NULL,
		PRIMARY KEY (challenge_id, user_id)
	);`

	// Create indexes for better performance
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_ledger_points ON ledger_entries(points);`,
		`CREATE INDEX IF NOT EXISTS idx_task_instances_set ON daily_task_instances(set_id, type);`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_active_end ON challenges(is_active, end_date);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON challenge_participants(user_id);`,
	}

	// Execute table creation
	for _, query := range []string{ledgerTable, taskSetsTable, taskInstancesTable, lessonProgressTable, challengesTable, participantsTable} {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Create indexes
	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
