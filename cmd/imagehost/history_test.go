package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imagehost/service/internal/db"
	"github.com/imagehost/service/internal/upload"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	envFile = filepath.Join(dir, "missing.env")
	dsn := filepath.Join(dir, "data", "imagehost", "uploads.db")
	t.Setenv("DATABASE_DRIVER", db.DriverSQLite)
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("LOG_LEVEL", "disabled")
	for _, key := range []string{"STORAGE_ACCESS_KEY_ID", "STORAGE_SECRET_ACCESS_KEY", "STORAGE_ENDPOINT", "STORAGE_BUCKET", "STORAGE_PUBLIC_URL_BASE"} {
		t.Setenv(key, "")
	}
	return dsn
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := historyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryCommand(t *testing.T) {
	dsn := setupEnv(t)

	out, err := run(t)
	require.NoError(t, err)
	require.Contains(t, out, "No uploads found")

	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	repo := upload.NewRepository(conn, db.DriverSQLite, upload.DefaultHistoryLimit)
	require.NoError(t, repo.Insert(context.Background(), upload.Record{
		ID:               "id-1",
		OriginalFilename: "cat.png",
		FileHash:         "hash-1",
		FileSize:         2048,
		URL:              "https://img.example.com/cat.png",
		UploadTime:       1700000000,
	}))
	require.NoError(t, conn.Close())

	out, err = run(t, "--limit", "5")
	require.NoError(t, err)
	require.Contains(t, out, "cat.png")
	require.Contains(t, out, "2.0 KiB")
	require.Contains(t, out, "Total: 1 uploads")

	out, err = run(t, "clear")
	require.NoError(t, err)
	require.Contains(t, out, "Upload history cleared")

	out, err = run(t)
	require.NoError(t, err)
	require.Contains(t, out, "No uploads found")
}

func TestNewAppOpensStoreInMissingDirectory(t *testing.T) {
	setupEnv(t)

	a := newApp(context.Background())
	defer a.Close()

	require.NotNil(t, a.conn)
	records, err := a.svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", formatBytes(512))
	require.Equal(t, "1.0 KiB", formatBytes(1024))
	require.Equal(t, "1.5 MiB", formatBytes(3<<19))
}
