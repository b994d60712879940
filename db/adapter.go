package db

import (
	"fmt"

	"github.com/chatmate-app/chatmate/server/config"
	dbmysql "github.com/chatmate-app/chatmate/server/db/mysql"
	dbsqlite "github.com/chatmate-app/chatmate/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
	// ModeMemory opens an in-memory SQLite database, used by tests.
	ModeMemory = "memory"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMemory:
		return dbsqlite.Open(":memory:")
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
