package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/offlinequeue/client"
)

func writeConfig(t *testing.T, origin string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relief-field.yaml")
	body := fmt.Sprintf("origin: %s\ndata_dir: %s\nlisten: 127.0.0.1:0\nlog_level: error\n", origin, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &RootOptions{ConfigPath: path, Format: "json"}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func run(t *testing.T, opts *RootOptions, stdin string, args ...string) (envelope, error) {
	t.Helper()
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", opts.ConfigPath, "--format", opts.Format}, args...))

	err := root.Execute()
	var env envelope
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	}
	return env, err
}

func TestEnqueueThenSync(t *testing.T) {
	var submitted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != client.SyncPath {
			http.NotFound(w, r)
			return
		}
		submitted.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"synced":true}`))
	}))
	defer srv.Close()
	opts := writeConfig(t, srv.URL)

	env, err := run(t, opts, `{"first_name":"Maria","last_name":"Santos"}`, "enqueue", "-")
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Status)

	env, err = run(t, opts, "", "status")
	require.NoError(t, err)
	var st struct {
		Pending int `json:"pending"`
		Failed  int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Pending)

	env, err = run(t, opts, "", "sync")
	require.NoError(t, err)
	var report struct {
		Synced int `json:"synced"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, int32(1), submitted.Load())

	env, err = run(t, opts, "", "status")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Zero(t, st.Pending)
}

func TestSyncRejectedExitsWithFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"birth_date":["Birth date is required."]}}`))
	}))
	defer srv.Close()
	opts := writeConfig(t, srv.URL)

	_, err := run(t, opts, `{"first_name":"Maria"}`, "enqueue", "-")
	require.NoError(t, err)

	_, err = run(t, opts, "", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env, err := run(t, opts, "", "status")
	require.NoError(t, err)
	assert.Contains(t, string(env.Data), "Birth date is required.")
}

func TestEnqueueRejectsNonObject(t *testing.T) {
	opts := writeConfig(t, "http://127.0.0.1:1")

	_, err := run(t, opts, `[1,2]`, "enqueue", "-")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEnqueueMissingFile(t *testing.T) {
	opts := writeConfig(t, "http://127.0.0.1:1")

	_, err := run(t, opts, "", "enqueue", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read payload")
}
