package control

import (
	"context"
	"testing"
	"time"
)

func TestSignal_PauseBlocksUntilResume(t *testing.T) {
	s := New(context.Background())
	s.Pause()

	done := make(chan error, 1)
	go func() { done <- s.WaitIfPaused() }()

	select {
	case <-done:
		t.Fatal("expected WaitIfPaused to block while paused")
	case <-time.After(30 * time.Millisecond):
	}

	s.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error after resume, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected WaitIfPaused to return after resume")
	}
}

func TestSignal_CancelReleasesPause(t *testing.T) {
	s := New(context.Background())
	s.Pause()

	done := make(chan error, 1)
	go func() { done <- s.WaitIfPaused() }()

	s.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected cancellation error from WaitIfPaused")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Cancel to unblock a paused waiter")
	}
}

func TestSignal_WaitIfPausedNoOpWhenNotPaused(t *testing.T) {
	s := New(context.Background())
	if err := s.WaitIfPaused(); err != nil {
		t.Errorf("expected no error when not paused, got %v", err)
	}
}

func TestSignal_ContextCancelledAfterCancel(t *testing.T) {
	s := New(context.Background())
	s.Cancel()
	select {
	case <-s.Context().Done():
	default:
		t.Error("expected context to be done after Cancel")
	}
}
