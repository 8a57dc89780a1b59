package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/laborportal/app/board"
	"github.com/umputun/laborportal/app/store/kvstore"
	"github.com/umputun/laborportal/app/store/sqlstore"
)

func Test_makeHostName(t *testing.T) {
	opts.Notify.HostName = "test"
	assert.Equal(t, "test", makeHostName())

	opts.Notify.HostName = ""
	exp, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, exp, makeHostName())
}

func Test_makeNotifier(t *testing.T) {
	opts.Notify.FromEmail = ""
	opts.Notify.ToEmails = nil
	opts.Notify.Webhooks = nil
	assert.Nil(t, makeNotifier())

	opts.Notify.ToEmails = []string{"test@example.com"}
	defer func() { opts.Notify.ToEmails = nil }()
	notif := makeNotifier()
	require.NotNil(t, notif)
	assert.Equal(t, "laborportal@"+makeHostName(), opts.Notify.FromEmail,
		"side effect of creating notifier with empty From is setting the From based on hostname")
}

func Test_makeHasher(t *testing.T) {
	opts.Auth.Hasher = "sha256"
	assert.IsType(t, board.SHA256Hasher{}, makeHasher())

	opts.Auth.Hasher, opts.Auth.BcryptCost = "bcrypt", 4
	defer func() { opts.Auth.Hasher = "sha256" }()
	h := makeHasher()
	assert.Equal(t, board.BcryptHasher{Cost: 4}, h)
}

func Test_makeStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	opts.Store.Type = "memory"
	st, err := makeStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &kvstore.Store{}, st)
	require.NoError(t, st.Close())

	opts.Store.Type, opts.Store.Path = "badger", filepath.Join(dir, "badger")
	st, err = makeStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &kvstore.Store{}, st)
	require.NoError(t, st.Close())

	opts.Store.Type, opts.Store.DSN = "sql", filepath.Join(dir, "board.db")
	st, err = makeStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, st)
	require.NoError(t, st.Close())

	opts.Store.Type, opts.Store.Path = "supabase", filepath.Join(dir, "sessions")
	opts.Store.SupabaseURL, opts.Store.SupabaseKey = "", ""
	_, err = makeStore(ctx)
	require.Error(t, err, "url and key are required")

	opts.Store.Type = "blah"
	_, err = makeStore(ctx)
	require.Error(t, err)
}

func Test_openStoreRetries(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	opts.Store.Type, opts.Store.Path = "badger", filepath.Join(blocker, "badger") // parent is a file
	opts.Store.Retries, opts.Store.RetryDelay = 2, time.Millisecond
	_, err := openStore(context.Background())
	require.Error(t, err)
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile, err := os.CreateTemp(t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile.Name()
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false
	defer func() {
		opts.Log.Enabled = false
		setupLogs()
	}()

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile.Name(), logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
}

func Test_validateBaseURL(t *testing.T) {
	tests := []struct{ name, input, want string }{
		{"empty string", "", ""},
		{"root path", "/", ""},
		{"path without trailing slash", "/jobs", "/jobs"},
		{"path with trailing slash", "/jobs/", "/jobs"},
		{"multi-segment path", "/app/jobs", "/app/jobs"},
		{"multi-segment with trailing slash", "/app/jobs/", "/app/jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validateBaseURL(tt.input))
		})
	}
}

func Test_seedJobsLogsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	log.Setup(log.Out(buf), log.Err(buf))
	defer log.Setup(log.Out(io.Discard), log.Err(io.Discard))

	opts.Seed.File = ""
	svc := board.New(kvstore.New(kvstore.NewMemory()), board.Options{})
	require.NoError(t, seedJobs(context.Background(), svc))
	assert.Equal(t, 1, strings.Count(buf.String(), "seeded 2 jobs"), buf.String())

	buf.Reset()
	require.NoError(t, seedJobs(context.Background(), svc))
	assert.NotContains(t, buf.String(), "seeded", "non-empty board is not seeded again")
}

func Test_run(t *testing.T) {
	port := freePort(t)
	opts.Store.Type = "memory"
	opts.Store.Retries = 1
	opts.Auth.Passkey, opts.Auth.Hasher, opts.Auth.SessionTTL = "4321", "sha256", time.Hour
	opts.Web.Address = fmt.Sprintf("127.0.0.1:%d", port)
	opts.Web.BaseURL = ""
	opts.Seed.Enabled, opts.Seed.File = true, ""
	opts.Janitor.Schedule = "@every 1h"
	defer func() { opts.Seed.Enabled = false }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(url + "/api/v1/jobs/open")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Warehouse Loader", "demo jobs seeded")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
