package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/domreplay/dbopen"
	"github.com/hazyhaar/domreplay/event"
)

func testStep() event.Step {
	return event.Step{
		ID:          "step-1",
		RunID:       "run-1",
		PageID:      "home",
		PageURL:     "https://example.com",
		Seq:         1,
		ScriptType:  "internal",
		Payload:     "boot()",
		PayloadHash: event.HashPayload("boot()"),
		Changes: []event.Change{
			{Kind: "node", Op: "delete", Path: "0>1>3"},
			{Kind: "node", Op: "create", Path: "0>1>0>0", Attributes: map[string]string{"class": "x"}},
			{Kind: "node", Op: "change", Path: "0>1>0", Attributes: map[string]string{"id": "app"},
				Delta: []event.AttrChange{{Name: "hidden", Op: event.AttrRemoved}}},
		},
		NodeCount: 9,
		Timestamp: 1708700000000,
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.SendStep(ctx, testStep()); err != nil {
		t.Fatal(err)
	}
	if err := s.SendRun(ctx, event.Run{ID: "run-1", Status: event.StatusDone}); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(&buf)
	var types []string
	for sc.Scan() {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		types = append(types, env.Type)
	}
	if len(types) != 2 || types[0] != "step" || types[1] != "run" {
		t.Errorf("envelopes: got %v", types)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.SendStep(context.Background(), testStep()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.SendRun(context.Background(), event.Run{ID: "r"}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown envelope", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	err := w.SendStep(context.Background(), testStep())
	if err == nil || !strings.Contains(err.Error(), "unknown envelope") {
		t.Fatalf("error: got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

type failing struct{ err error }

func (f failing) SendStep(context.Context, event.Step) error { return f.err }
func (f failing) SendRun(context.Context, event.Run) error { return f.err }
func (f failing) Close() error { return nil }

func TestRouter_FanOutDespiteErrors(t *testing.T) {
	boom := errors.New("boom")
	var got []event.Step
	cb := NewCallback(func(_ context.Context, s event.Step) error {
		got = append(got, s)
		return nil
	}, nil)

	r := NewRouter(nil, failing{boom}, cb)
	err := r.SendStep(context.Background(), testStep())
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if len(got) != 1 {
		t.Errorf("callback: got %d steps, want 1", len(got))
	}
	if err := r.SendRun(context.Background(), event.Run{}); !errors.Is(err, boom) {
		t.Errorf("SendRun: got %v", err)
	}
}

func TestSQLite_StepsRoundtrip(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	run := event.Run{ID: "run-1", PageID: "home", PageURL: "https://example.com", Scripts: 2, Status: event.StatusRunning, Started: 1}
	if err := s.SendRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := s.SendStep(ctx, testStep()); err != nil {
		t.Fatal(err)
	}
	run.Status, run.Steps, run.Finished = event.StatusDone, 1, 2
	if err := s.SendRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	gotRun, err := s.Run(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if gotRun.Status != event.StatusDone || gotRun.Steps != 1 || gotRun.Finished != 2 {
		t.Errorf("run: got %+v", gotRun)
	}

	steps, err := s.Steps(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps: got %d, want 1", len(steps))
	}
	st := steps[0]
	if st.PageID != "home" || st.Payload != "boot()" || len(st.Changes) != 3 {
		t.Fatalf("step: got %+v", st)
	}
	if st.Changes[0].Op != "delete" || st.Changes[1].Attributes["class"] != "x" {
		t.Errorf("changes: got %+v", st.Changes)
	}
	if d := st.Changes[2].Delta; len(d) != 1 || d[0].Name != "hidden" || d[0].Op != event.AttrRemoved {
		t.Errorf("delta: got %+v", d)
	}
	if st.Changes[1].Delta != nil {
		t.Errorf("create carries a delta: %+v", st.Changes[1].Delta)
	}
}

func TestSQLite_DuplicateSeq(t *testing.T) {
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.SendStep(ctx, testStep()); err != nil {
		t.Fatal(err)
	}
	dup := testStep()
	dup.ID = "step-2"
	if err := s.SendStep(ctx, dup); err == nil {
		t.Fatal("expected unique (run_id, seq) violation")
	}
	// The failed transaction must not leave its changes behind.
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM changes WHERE step_id = 'step-2'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("orphan changes: %d", n)
	}
}

func TestOpenSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "runs.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SendRun(context.Background(), event.Run{ID: "r", Status: event.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
