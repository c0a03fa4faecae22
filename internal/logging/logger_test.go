package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDevelopmentAndProduction(t *testing.T) {
	t.Parallel()

	dev, err := New(true, FileOptions{})
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false, FileOptions{})
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestNewFileLoggerWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "spider.log")
	logger, err := New(false, FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}
