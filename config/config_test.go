package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zkapauthorizer.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
Logger:
  LogEncoding: console
  LogLevel: info
Store:
  Path: vouchers.sqlite
Pass:
  BytesPerPass: 131072
StorageServer:
  SpentPassesDBPath: spent.bolt
  SpentPassesCacheSize: 1024
StorageClient:
  FURL: pb://test@tcp:1234/storage
`

func TestLoadFileValid(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(131072), cfg.Pass.BytesPerPass)
	require.Equal(t, "vouchers.sqlite", cfg.Store.Path)
}

func TestLoadFileUnknownField(t *testing.T) {
	path := writeTestConfig(t, "UnknownField: 123\n")
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileMissingBytesPerPass(t *testing.T) {
	path := writeTestConfig(t, `
Store:
  Path: vouchers.sqlite
StorageServer:
  SpentPassesDBPath: spent.bolt
  SpentPassesCacheSize: 1024
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Pass")
}

func TestLoadFileRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zkapauthorizer.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
Store:
  Path: vouchers.sqlite
Pass:
  BytesPerPass: 131072
StorageServer:
  SpentPassesDBPath: spent.bolt
  SpentPassesCacheSize: 1024
`), 0o644))

	cfg, err := LoadFile(path, "/data/zkap")
	require.NoError(t, err)
	require.Equal(t, "/data/zkap/vouchers.sqlite", cfg.Store.Path)
	require.Equal(t, "/data/zkap/spent.bolt", cfg.StorageServer.SpentPassesDBPath)
}

func TestDefaultSpentPassesCacheSizeApplied(t *testing.T) {
	path := writeTestConfig(t, `
Store:
  Path: vouchers.sqlite
Pass:
  BytesPerPass: 131072
StorageServer:
  SpentPassesDBPath: spent.bolt
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultSpentPassesCacheSize, cfg.StorageServer.SpentPassesCacheSize)
}
