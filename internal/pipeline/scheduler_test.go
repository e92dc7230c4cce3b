package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type mockRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	runFunc func(ctx context.Context) (*Result, error)
}

func (m *mockRunner) Run(ctx context.Context) (*Result, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return &Result{}, nil
}

func TestScheduler_Start_RunsImmediatelyAndOnTicker(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{}
	s := NewScheduler(runner, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	s.Start(ctx, 20*time.Millisecond)

	if got := runner.calls.Load(); got < 2 {
		t.Errorf("Run calls = %d, want at least 2", got)
	}
	if !strings.Contains(buf.String(), "実行スケジューラを停止しました") {
		t.Errorf("stop log missing: %s", buf.String())
	}
}

func TestScheduler_RunOnce_LogsError(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{runFunc: func(ctx context.Context) (*Result, error) {
		return nil, errors.New("output directory not writable")
	}}
	s := NewScheduler(runner, newTestLogger(&buf))

	if !s.RunOnce(context.Background()) {
		t.Fatal("RunOnce should run when idle")
	}
	if !strings.Contains(buf.String(), "パイプラインの実行に失敗しました") {
		t.Errorf("error log missing: %s", buf.String())
	}
}

func TestScheduler_RunOnce_SkipsWhileRunning(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{block: make(chan struct{})}
	s := NewScheduler(runner, newTestLogger(&buf))

	done := make(chan bool)
	go func() { done <- s.RunOnce(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for runner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if s.RunOnce(context.Background()) {
		t.Error("concurrent RunOnce should be skipped")
	}
	close(runner.block)
	if !<-done {
		t.Error("first RunOnce should report that it ran")
	}
	if got := runner.calls.Load(); got != 1 {
		t.Errorf("Run calls = %d, want 1", got)
	}
}
