package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/erp/syncengine/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add sync jobs table", "add_sync_jobs_table"},
		{"Add-Sync-Jobs", "add_sync_jobs"},
		{"ADD_SYNC_JOBS", "add_sync_jobs"},
		{"add__sync__jobs", "add_sync_jobs"},
		{"Add Index 123", "add_index_123"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"_leading", "leading"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := CreateMigration(tmpDir, "add sync jobs", "Queue table")
	require.NoError(t, err)
	assert.Equal(t, "000001", first.Version)
	assert.Equal(t, "000001_add_sync_jobs.up.sql", filepath.Base(first.UpPath))
	assert.Equal(t, "000001_add_sync_jobs.down.sql", filepath.Base(first.DownPath))

	second, err := CreateMigration(tmpDir, "add claim index", "")
	require.NoError(t, err)
	assert.Equal(t, "000002", second.Version)

	upContent, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(upContent), "add sync jobs")
	assert.Contains(t, string(upContent), "Queue table")
	assert.Contains(t, string(upContent), "Write your UP migration SQL here")

	downContent, err := os.ReadFile(first.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(downContent), "Rollback")
	assert.True(t, strings.HasSuffix(second.DownPath, ".down.sql"))
}

func TestCreateMigration_ContinuesAfterExistingVersions(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "000007_seed.up.sql"), []byte("--"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "000007_seed.down.sql"), []byte("--"), 0644))

	mf, err := CreateMigration(tmpDir, "next", "")
	require.NoError(t, err)
	assert.Equal(t, "000008", mf.Version)
}

func TestCreateMigration_RejectsEmptyName(t *testing.T) {
	_, err := CreateMigration(t.TempDir(), "!!!", "")
	assert.Error(t, err)
}

func TestCreateMigration_CreatesDirectory(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "nested", "migrations")

	_, err := CreateMigration(nestedPath, "test", "test migration")
	require.NoError(t, err)

	info, err := os.Stat(nestedPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_add_jobs.up.sql":    {Data: []byte("--")},
		"000002_add_jobs.down.sql":  {Data: []byte("--")},
		"000001_init.up.sql":        {Data: []byte("--")},
		"000001_init.down.sql":      {Data: []byte("--")},
		"README.md":                 {Data: []byte("docs")},
		"subdir.up.sql/placeholder": {Data: []byte("")},
	}

	list, err := ListMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init", "000002_add_jobs"}, list)
}

func TestListMigrations_NonexistentDirectory(t *testing.T) {
	list, err := ListMigrations(os.DirFS("/nonexistent/path/to/migrations"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	list, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	for i, name := range list {
		_, err := migrations.FS.ReadFile(name + ".down.sql")
		assert.NoError(t, err, "missing rollback for %s", name)

		next, err := nextVersion(list[:i+1])
		require.NoError(t, err)
		assert.Equal(t, i+2, next, "versions must be contiguous")
	}
}
