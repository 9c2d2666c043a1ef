package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caetera/spectronaut-webui/internal/build"
	"github.com/caetera/spectronaut-webui/internal/config"
	"github.com/caetera/spectronaut-webui/internal/controller"
	"github.com/caetera/spectronaut-webui/internal/logstream"
	"github.com/caetera/spectronaut-webui/internal/registry"
	"github.com/caetera/spectronaut-webui/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server   *httptest.Server
	registry *registry.Registry
	ctrl     *controller.Controller
}

// newFixture serves the API against a controller whose external tool is a
// shell script.
func newFixture(t *testing.T, script string) *fixture {
	t.Helper()

	reg := registry.New()

	ctrl := controller.New(build.NewBuilder(testLogger()), testLogger(), controller.Options{
		Command:       []string{"/bin/sh", "-c", script, "spectronaut"},
		GraceInterval: 200 * time.Millisecond,
	})

	cfg := config.Default()
	srv := server.New(cfg, reg, ctrl, testLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, registry: reg, ctrl: ctrl}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
	}

	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
}

func writeRawFiles(t *testing.T, names ...string) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, len(names))

	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[i], []byte("raw"), 0o644); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
	}

	return paths
}

func TestConfigEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `exit 0`)

	res := f.do(t, http.MethodGet, "/api/config", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusOK)
	}

	var body struct {
		DefaultDir string   `json:"default_dir"`
		Workflows  []string `json:"workflows"`
	}
	decode(t, res, &body)

	if body.DefaultDir != config.Default().DefaultDir {
		t.Errorf("expected default dir: got '%s'", body.DefaultDir)
	}
	if len(body.Workflows) == 0 {
		t.Error("expected advertised workflows: got none")
	}
}

func TestEntriesEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `exit 0`)
	paths := writeRawFiles(t, "b.raw", "a.raw")

	t.Run("Test add entries sorted by file name", func(t *testing.T) {
		res := f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusOK)
		}

		var body map[string]int
		decode(t, res, &body)

		if body["added"] != 2 {
			t.Errorf("expected added count: got '%d', want '2'", body["added"])
		}

		entries := f.registry.Snapshot()
		if len(entries) != 2 || entries[0].Name != "a.raw" || entries[1].Name != "b.raw" {
			t.Errorf("expected entries in file-name order: got '%v'", entries)
		}

		if entries[0].Kind != registry.KindThermoRaw {
			t.Errorf("expected detected kind: got '%s'", entries[0].Kind)
		}
	})

	t.Run("Test duplicate paths skipped", func(t *testing.T) {
		res := f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusOK)
		}

		var body map[string]int
		decode(t, res, &body)

		if body["added"] != 0 {
			t.Errorf("expected added count: got '%d', want '0'", body["added"])
		}
	})

	t.Run("Test nonexistent path rejected", func(t *testing.T) {
		res := f.do(t, http.MethodPost, "/api/entries", map[string]any{
			"paths": []string{"/nonexistent/x.raw"},
		})
		defer res.Body.Close()

		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("Test list entries", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/api/entries", nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusOK)
		}

		var entries []registry.FileEntry
		decode(t, res, &entries)

		if len(entries) != 2 {
			t.Errorf("expected entry count: got '%d', want '2'", len(entries))
		}
	})

	t.Run("Test bulk set field", func(t *testing.T) {
		entries := f.registry.Snapshot()
		ids := []string{entries[0].ID, entries[1].ID}

		res := f.do(t, http.MethodPatch, "/api/entries", map[string]any{
			"ids":   ids,
			"field": registry.FieldCondition,
			"value": "treated",
		})
		defer res.Body.Close()

		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusNoContent)
		}

		for _, e := range f.registry.Snapshot() {
			if e.Condition != "treated" {
				t.Errorf("expected condition: got '%s', want 'treated'", e.Condition)
			}
		}
	})

	t.Run("Test set unknown field rejected", func(t *testing.T) {
		entries := f.registry.Snapshot()

		res := f.do(t, http.MethodPatch, "/api/entries", map[string]any{
			"ids":   []string{entries[0].ID},
			"field": "bogus",
			"value": "x",
		})
		defer res.Body.Close()

		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("Test remove entries", func(t *testing.T) {
		entries := f.registry.Snapshot()

		res := f.do(t, http.MethodPost, "/api/entries/remove", map[string]any{
			"ids": []string{entries[0].ID},
		})

		var body map[string]int
		decode(t, res, &body)

		if body["removed"] != 1 {
			t.Errorf("expected removed count: got '%d', want '1'", body["removed"])
		}
		if f.registry.Len() != 1 {
			t.Errorf("expected remaining entries: got '%d', want '1'", f.registry.Len())
		}
	})

	t.Run("Test clear entries", func(t *testing.T) {
		res := f.do(t, http.MethodPost, "/api/entries/clear", nil)
		defer res.Body.Close()

		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusNoContent)
		}
		if f.registry.Len() != 0 {
			t.Errorf("expected empty registry: got '%d' entries", f.registry.Len())
		}
	})
}

func TestJobEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("Test submit accepted", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `exit 0`)
		paths := writeRawFiles(t, "a.raw")
		f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths}).Body.Close()

		res := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   build.Params{OutputDir: t.TempDir()},
		})

		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusAccepted)
		}

		var body map[string]string
		decode(t, res, &body)

		if body["id"] == "" {
			t.Error("expected a job id: got empty string")
		}
	})

	t.Run("Test submit while active conflicts", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `sleep 30`)
		paths := writeRawFiles(t, "a.raw")
		f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths}).Body.Close()

		params := build.Params{OutputDir: t.TempDir()}

		first := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   params,
		})
		first.Body.Close()

		if first.StatusCode != http.StatusAccepted {
			t.Fatalf("expected status: got '%d', want '%d'", first.StatusCode, http.StatusAccepted)
		}

		second := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   params,
		})
		second.Body.Close()

		if second.StatusCode != http.StatusConflict {
			t.Errorf("expected status: got '%d', want '%d'", second.StatusCode, http.StatusConflict)
		}

		abort := f.do(t, http.MethodPost, "/api/jobs/current/abort", nil)
		abort.Body.Close()

		if abort.StatusCode != http.StatusAccepted {
			t.Errorf("expected status: got '%d', want '%d'", abort.StatusCode, http.StatusAccepted)
		}

		waitTerminal(t, f)
	})

	t.Run("Test status reflects job lifecycle", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `exit 0`)

		res := f.do(t, http.MethodGet, "/api/jobs/current", nil)

		var status struct {
			State    string `json:"state"`
			ExitCode int    `json:"exit_code"`
		}
		decode(t, res, &status)

		if status.State != "Idle" {
			t.Errorf("expected state: got '%s', want 'Idle'", status.State)
		}
		if status.ExitCode != -1 {
			t.Errorf("expected exit code: got '%d', want '-1'", status.ExitCode)
		}

		paths := writeRawFiles(t, "a.raw")
		f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths}).Body.Close()

		submit := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   build.Params{OutputDir: t.TempDir()},
		})
		submit.Body.Close()

		waitTerminal(t, f)

		res = f.do(t, http.MethodGet, "/api/jobs/current", nil)
		decode(t, res, &status)

		if status.State != "Completed" {
			t.Errorf("expected state: got '%s', want 'Completed'", status.State)
		}
		if status.ExitCode != 0 {
			t.Errorf("expected exit code: got '%d', want '0'", status.ExitCode)
		}
	})

	t.Run("Test submit empty table fails the job", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `exit 0`)

		res := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   build.Params{OutputDir: t.TempDir()},
		})
		res.Body.Close()

		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusAccepted)
		}

		status := waitTerminal(t, f)
		if status.State != controller.StateFailed {
			t.Errorf("expected state: got '%s', want '%s'", status.State, controller.StateFailed)
		}
	})

	t.Run("Test malformed submit body rejected", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `exit 0`)

		req, err := http.NewRequest(
			http.MethodPost,
			f.server.URL+"/api/jobs",
			bytes.NewBufferString("{not json"),
		)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		res, err := f.server.Client().Do(req)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		res.Body.Close()

		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status: got '%d', want '%d'", res.StatusCode, http.StatusBadRequest)
		}
	})
}

func waitTerminal(t *testing.T, f *fixture) controller.Status {
	t.Helper()

	deadline := time.After(10 * time.Second)

	for {
		status := f.ctrl.Status()
		if status.State.Terminal() {
			return status
		}

		select {
		case <-deadline:
			t.Fatalf("expected terminal state: still in '%s' after 10s", status.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return msg
}

func TestWebSocketStream(t *testing.T) {
	t.Parallel()

	t.Run("Test backlog replayed in order after completion", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `echo alpha; echo beta >&2; exit 0`)
		paths := writeRawFiles(t, "a.raw")
		f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths}).Body.Close()

		submit := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   build.Params{OutputDir: t.TempDir()},
		})
		submit.Body.Close()

		waitTerminal(t, f)

		conn := dialWS(t, f)

		msg := readMessage(t, conn)
		if msg.Type != "status" {
			t.Fatalf("expected initial status message: got '%s'", msg.Type)
		}

		var status struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if status.State != "Completed" {
			t.Errorf("expected state: got '%s', want 'Completed'", status.State)
		}

		var lines []logstream.Line
		for len(lines) < 2 {
			msg := readMessage(t, conn)
			if msg.Type != "log" {
				continue
			}

			var line logstream.Line
			if err := json.Unmarshal(msg.Payload, &line); err != nil {
				t.Fatalf("expected not to receive error: got '%v'", err)
			}

			lines = append(lines, line)
		}

		if lines[0].Text != "alpha" || lines[1].Text != "beta" {
			t.Errorf("expected backlog in publish order: got '%v'", lines)
		}
		if lines[0].Seq >= lines[1].Seq {
			t.Errorf(
				"expected ascending sequence numbers: got '%d' then '%d'",
				lines[0].Seq,
				lines[1].Seq,
			)
		}
		if lines[0].Stream != logstream.SourceStdout || lines[1].Stream != logstream.SourceStderr {
			t.Errorf("expected source stream tags: got '%v'", lines)
		}
	})

	t.Run("Test live status transitions and log lines", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, `echo alpha; exit 0`)
		paths := writeRawFiles(t, "a.raw")
		f.do(t, http.MethodPost, "/api/entries", map[string]any{"paths": paths}).Body.Close()

		conn := dialWS(t, f)

		msg := readMessage(t, conn)
		if msg.Type != "status" {
			t.Fatalf("expected initial status message: got '%s'", msg.Type)
		}

		submit := f.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"workflow": build.WorkflowConvert,
			"params":   build.Params{OutputDir: t.TempDir()},
		})
		submit.Body.Close()

		var (
			states   []string
			logTexts []string
		)

		for {
			msg := readMessage(t, conn)

			switch msg.Type {
			case "status":
				var status struct {
					State string `json:"state"`
				}
				if err := json.Unmarshal(msg.Payload, &status); err != nil {
					t.Fatalf("expected not to receive error: got '%v'", err)
				}
				states = append(states, status.State)
			case "log":
				var line logstream.Line
				if err := json.Unmarshal(msg.Payload, &line); err != nil {
					t.Fatalf("expected not to receive error: got '%v'", err)
				}
				logTexts = append(logTexts, line.Text)
			}

			if len(states) > 0 && states[len(states)-1] == "Completed" && len(logTexts) > 0 {
				break
			}
		}

		if states[0] != "Building" {
			t.Errorf("expected first transition: got '%s', want 'Building'", states[0])
		}
		if !slices.Contains(logTexts, "alpha") {
			t.Errorf("expected live log line: got '%v'", logTexts)
		}
	})
}
