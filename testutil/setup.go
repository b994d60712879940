// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/config"
	"github.com/chatmate-app/chatmate/server/db"
	"github.com/chatmate-app/chatmate/server/model"
)

// SetupTestDB opens a throwaway SQLite database and runs migrations. A file
// in t.TempDir is used instead of :memory: because gorm's connection pool
// would otherwise hand each connection its own empty database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{
		Mode:       db.ModeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(gdb))
	return gdb
}

// SetupTestCache returns an in-process cache, never Redis.
func SetupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{})
	require.NoError(t, err)
	return c
}

// SetupTestPubSub returns an in-process pub/sub, never Redis.
func SetupTestPubSub(t *testing.T) cache.PubSub {
	t.Helper()
	ps, err := cache.NewPubSub(cache.Config{})
	require.NoError(t, err)
	return ps
}

// CreateUser inserts a verified user and returns it.
func CreateUser(t *testing.T, gdb *gorm.DB, name, email string) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: email, EmailVerified: true}
	require.NoError(t, gdb.Create(u).Error)
	return u
}
