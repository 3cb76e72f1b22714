package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type mockSessionSweeper struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
	calls           int
}

func (m *mockSessionSweeper) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls++
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockTokenSweeper struct {
	purged int
	calls  int
}

func (m *mockTokenSweeper) Purge() int {
	m.calls++
	return m.purged
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestRunOnce_SweepsSessionsAndTokens(t *testing.T) {
	var buf bytes.Buffer
	sessions := &mockSessionSweeper{
		deleteExpiredFn: func(ctx context.Context) (int64, error) { return 3, nil },
	}
	tokens := &mockTokenSweeper{purged: 2}

	s := NewSweeper(sessions, tokens, newTestLogger(&buf))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if sessions.calls != 1 || tokens.calls != 1 {
		t.Errorf("calls = (%d, %d), want both swept once", sessions.calls, tokens.calls)
	}
	if !strings.Contains(buf.String(), `"deleted_sessions":3`) {
		t.Errorf("log should report deleted sessions, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"purged_tokens":2`) {
		t.Errorf("log should report purged tokens, got: %s", buf.String())
	}
}

func TestRunOnce_SessionDeleteFailurePropagates(t *testing.T) {
	var buf bytes.Buffer
	sessions := &mockSessionSweeper{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("db down")
		},
	}
	tokens := &mockTokenSweeper{}

	s := NewSweeper(sessions, tokens, newTestLogger(&buf))

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce should return the session delete error")
	}
}

func TestRunOnce_NothingToSweepIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	s := NewSweeper(&mockSessionSweeper{}, &mockTokenSweeper{}, newTestLogger(&buf))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	swept := make(chan struct{}, 1)
	sessions := &mockSessionSweeper{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return 0, nil
		},
	}
	s := NewSweeper(sessions, &mockTokenSweeper{}, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回分が実行されるのを待つ
	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
