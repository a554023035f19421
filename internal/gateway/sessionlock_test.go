package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestSessionLockerSerializesSameSessionKey(t *testing.T) {
	locker := NewSessionLocker(t.TempDir(), time.Second, time.Minute)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "session-1")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := locker.Acquire(ctx, "session-1")
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("expected the second acquire to block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected the second acquire to proceed after release")
	}
}

func TestSessionLockerAllowsDifferentSessionKeysConcurrently(t *testing.T) {
	locker := NewSessionLocker(t.TempDir(), time.Second, time.Minute)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "session-a")
	if err != nil {
		t.Fatalf("Acquire session-a: %v", err)
	}
	defer release1()

	release2, err := locker.Acquire(ctx, "session-b")
	if err != nil {
		t.Fatalf("expected a distinct session key to acquire immediately: %v", err)
	}
	release2()
}

func TestSessionLockerTimesOutWhenHeldTooLong(t *testing.T) {
	locker := NewSessionLocker(t.TempDir(), 30*time.Millisecond, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "session-1")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer release()

	if _, err := locker.Acquire(ctx, "session-1"); err == nil {
		t.Fatal("expected the second acquire to time out")
	}
}

func TestSessionLockerBreaksStaleLockFile(t *testing.T) {
	dir := t.TempDir()
	locker := NewSessionLocker(dir, time.Second, 10*time.Millisecond)

	staleTimestamp := time.Now().Add(-time.Hour).UnixMilli()
	lockContent := strconv.FormatInt(staleTimestamp, 10) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "session-1.lock"), []byte(lockContent), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	release, err := locker.Acquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("expected a stale lock to be broken: %v", err)
	}
	release()
}
