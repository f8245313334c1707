package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupProjectConfig_NoConfig_ReturnsEmptyString(t *testing.T) {
	tmpDir := t.TempDir()

	path, err := BackupProjectConfig(tmpDir)

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupProjectConfig_CreatesTimestampedCopy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cqs.toml")
	content := "version = 1\nlimit = 10\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	backupPath, err := BackupProjectConfig(tmpDir)

	require.NoError(t, err)
	assert.NotEmpty(t, backupPath)
	assert.FileExists(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestListProjectConfigBackups_NoBackups_ReturnsEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	backups, err := ListProjectConfigBackups(tmpDir)

	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestListProjectConfigBackups_NonexistentDir_ReturnsEmpty(t *testing.T) {
	backups, err := ListProjectConfigBackups("/nonexistent/backup/dir")

	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestListProjectConfigBackups_SortedNewestFirst(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cqs.toml")

	older := configPath + BackupSuffix + ".20260101-000000"
	newer := configPath + BackupSuffix + ".20260101-000100"
	require.NoError(t, os.WriteFile(older, []byte("old"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))

	backups, err := ListProjectConfigBackups(tmpDir)

	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0])
	assert.Equal(t, older, backups[1])
}

func TestCleanupOldBackups_KeepsOnlyMaxBackups(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cqs.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("version = 1"), 0o644))

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupProjectConfig(tmpDir)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	backups, err := ListProjectConfigBackups(tmpDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreProjectConfig_RestoresContent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cqs.toml")
	original := "version = 1\nlimit = 10\n"
	require.NoError(t, os.WriteFile(configPath, []byte(original), 0o644))

	backupPath, err := BackupProjectConfig(tmpDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte("version = 1\nlimit = 999\n"), 0o644))

	err = RestoreProjectConfig(tmpDir, backupPath)
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestRestoreProjectConfig_MissingBackup_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()

	err := RestoreProjectConfig(tmpDir, filepath.Join(tmpDir, "nonexistent.bak"))

	assert.Error(t, err)
}

func TestRestoreProjectConfig_BacksUpCurrentBeforeOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cqs.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("version = 1\nlimit = 1\n"), 0o644))

	backup1, err := BackupProjectConfig(tmpDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte("version = 1\nlimit = 2\n"), 0o644))

	err = RestoreProjectConfig(tmpDir, backup1)
	require.NoError(t, err)

	backups, err := ListProjectConfigBackups(tmpDir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(backups), 2)
}
