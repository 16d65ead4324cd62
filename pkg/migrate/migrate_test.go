package migrate_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keystonerealty/keystone-backend/pkg/migrate"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.ValidateFS(migrate.Embedded()))
}

func TestEmbeddedMigrationsApplyOnSQLite(t *testing.T) {
	conn := openSQLite(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)

	require.NoError(t, migrate.Up(context.Background(), sqlDB, goose.DialectSQLite3, migrate.Embedded()))

	for _, table := range []string{"properties", "listings_v2", "listing_features", "listings", "listing_images", "listing_documents", "commissions"} {
		assert.True(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}

	// a second run is a no-op
	out, err := migrate.Run(context.Background(), sqlDB, goose.DialectSQLite3, migrate.Embedded(), "up")
	require.NoError(t, err)
	assert.Equal(t, "applied 0 migrations", out)

	status, err := migrate.Run(context.Background(), sqlDB, goose.DialectSQLite3, migrate.Embedded(), "status")
	require.NoError(t, err)
	assert.Contains(t, status, "create_commissions.sql")
	assert.NotContains(t, status, "pending")
}

func TestMigrateToVersionRollsBack(t *testing.T) {
	conn := openSQLite(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, migrate.Up(ctx, sqlDB, goose.DialectSQLite3, migrate.Embedded()))
	require.NoError(t, migrate.MigrateToVersion(ctx, sqlDB, goose.DialectSQLite3, migrate.Embedded(), "20251001090200"))

	assert.True(t, conn.Migrator().HasTable("listings"))
	assert.False(t, conn.Migrator().HasTable("listing_images"))
	assert.False(t, conn.Migrator().HasTable("commissions"))

	require.Error(t, migrate.MigrateToVersion(ctx, sqlDB, goose.DialectSQLite3, migrate.Embedded(), "latest"))
}

func TestMediaMigrationKeepsOrderingConstraints(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("migrations", "20251001090300_create_listing_media.sql"))
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS listing_images",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_listing_images_position ON listing_images (listing_id, position)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_listing_images_featured ON listing_images (listing_id) WHERE is_featured",
		"DROP TABLE IF EXISTS listing_images",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestValidateFSRejectsBadNames(t *testing.T) {
	err := migrate.ValidateFS(fstest.MapFS{
		"create_things.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	})
	require.Error(t, err)

	err = migrate.ValidateFS(fstest.MapFS{
		"20250101000000_a.sql": {Data: []byte("-- +goose Up\n")},
	})
	require.ErrorContains(t, err, "missing")

	err = migrate.ValidateFS(fstest.MapFS{
		"20250101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20250101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	})
	require.ErrorContains(t, err, "duplicate")
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Listing Views!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_listing_views.sql"))
	require.NoError(t, migrate.ValidateDir(dir))
}
