package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, r *Runner, id string) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := r.Wait(ctx, id)
	if ctx.Err() != nil {
		t.Fatalf("task %s did not finish", id)
	}
	return st
}

func TestRunnerSuccess(t *testing.T) {
	r := NewRunner()
	var saved string

	ok := r.Start(context.Background(), "n1-enhance", Spec{
		Run: func(ctx context.Context, report func(Progress)) (string, error) {
			report(Progress{Step: "generating"})
			return "# Notes", nil
		},
		OnSuccess: func(_ context.Context, text string) error {
			saved = text
			return nil
		},
	})
	if !ok {
		t.Fatal("Start() = false, want true")
	}

	st := waitFor(t, r, "n1-enhance")
	if st.Status != Success || st.Text != "# Notes" {
		t.Errorf("state = %+v, want success", st)
	}
	if saved != "# Notes" {
		t.Errorf("OnSuccess got %q", saved)
	}
}

func TestRunnerRejectsConcurrentStart(t *testing.T) {
	r := NewRunner()
	release := make(chan struct{})
	var runs atomic.Int32

	spec := Spec{Run: func(ctx context.Context, _ func(Progress)) (string, error) {
		runs.Add(1)
		<-release
		return "ok", nil
	}}

	if !r.Start(context.Background(), "k", spec) {
		t.Fatal("first Start should succeed")
	}
	if r.Start(context.Background(), "k", spec) {
		t.Error("second Start while generating should be rejected")
	}
	if r.Get("k").Status != Generating {
		t.Errorf("status = %s, want generating", r.Get("k").Status)
	}
	close(release)
	waitFor(t, r, "k")

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestRunnerFailureSkipsOnSuccess(t *testing.T) {
	r := NewRunner()
	called := false

	r.Start(context.Background(), "k", Spec{
		Run:       func(context.Context, func(Progress)) (string, error) { return "", errors.New("model exploded") },
		OnSuccess: func(context.Context, string) error { called = true; return nil },
	})

	st := waitFor(t, r, "k")
	if st.Status != Failed || st.Error != "model exploded" {
		t.Errorf("state = %+v, want error", st)
	}
	if called {
		t.Error("OnSuccess should not run after failure")
	}
}

func TestRunnerCancelReturnsToIdle(t *testing.T) {
	r := NewRunner()
	started := make(chan struct{})
	called := false

	r.Start(context.Background(), "k", Spec{
		Run: func(ctx context.Context, _ func(Progress)) (string, error) {
			close(started)
			<-ctx.Done()
			return "partial", ctx.Err()
		},
		OnSuccess: func(context.Context, string) error { called = true; return nil },
	})
	<-started

	if !r.Cancel("k") {
		t.Fatal("Cancel() = false, want true")
	}
	st := waitFor(t, r, "k")
	if st.Status != Idle {
		t.Errorf("status = %s, want idle after abort", st.Status)
	}
	if called {
		t.Error("OnSuccess should not run after abort")
	}
	if r.Cancel("k") {
		t.Error("Cancel on finished task should report false")
	}
}

func TestRunnerOutlivesCallerContext(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	r.Start(ctx, "k", Spec{Run: func(ctx context.Context, _ func(Progress)) (string, error) {
		<-release
		return "done", ctx.Err()
	}})
	cancel()
	close(release)

	if st := waitFor(t, r, "k"); st.Status != Success {
		t.Errorf("status = %s, want success", st.Status)
	}
}

func TestRunnerSubscribe(t *testing.T) {
	r := NewRunner()
	var (
		mu    sync.Mutex
		steps []string
	)
	unsub := r.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, string(e.State.Status)+":"+e.State.Progress.Step)
	})
	defer unsub()

	r.Start(context.Background(), "k", Spec{Run: func(_ context.Context, report func(Progress)) (string, error) {
		report(Progress{Step: "analyzing"})
		return "x", nil
	}})
	waitFor(t, r, "k")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"generating:", "generating:analyzing", "success:analyzing"}
	if len(steps) != len(want) {
		t.Fatalf("events = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, steps[i], want[i])
		}
	}
}

func TestGetUnknownIsIdle(t *testing.T) {
	if st := NewRunner().Get("nope"); st.Status != Idle {
		t.Errorf("status = %s, want idle", st.Status)
	}
}

func TestTaskIDs(t *testing.T) {
	if EnhanceID("n1") != "n1-enhance" || TitleID("s1") != "s1-title" {
		t.Error("unexpected task id format")
	}
}
