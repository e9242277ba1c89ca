package main

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/jmerrifield20/NodeRegistrar/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_init.up.sql":     1,
		"012_settings.up.sql": 12,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"init.sql", "abc_init.up.sql", ""} {
		_, err := versionFromFile(bad)
		assert.Error(t, err, bad)
	}
}

func TestMigrationFiles_sortedUpOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"002_users.up.sql":    {Data: []byte("--")},
		"001_init.up.sql":     {Data: []byte("--")},
		"001_init.down.sql":   {Data: []byte("--")},
		"README.md":           {Data: []byte("x")},
		"nested/003_x.up.sql": {Data: []byte("--")},
	}
	files, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.up.sql", "002_users.up.sql"}, files)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := migrationFiles(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		_, err := versionFromFile(f)
		assert.NoError(t, err, f)
	}
}

func TestEmbeddedMigrations_leaveSettingsUnset(t *testing.T) {
	// The allow-list comes from config until an operator seeds it.
	files, err := migrationFiles(migrations.FS)
	require.NoError(t, err)
	for _, f := range files {
		body, err := fs.ReadFile(migrations.FS, f)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "INSERT INTO settings", f)
	}
}
