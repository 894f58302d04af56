package api

import (
	"context"
	"testing"
	"time"
)

// TestAcquireSequencesPerIP: a second request from the same IP must wait
// for the first permit to be released.
func TestAcquireSequencesPerIP(t *testing.T) {
	l := NewRateLimiter(0)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "10.0.0.1", RequestGeneral)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		second, err := l.Acquire(ctx, "10.0.0.1", RequestGeneral)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
		}
		second.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second request proceeded before the first released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second request never acquired after release")
	}
}

// TestAcquireIndependentIPs: different IPs do not queue behind each other.
func TestAcquireIndependentIPs(t *testing.T) {
	l := NewRateLimiter(0)
	ctx := context.Background()

	a, err := l.Acquire(ctx, "10.0.0.1", RequestHeavy)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	ch := make(chan error, 1)
	go func() {
		b, err := l.Acquire(ctx, "10.0.0.2", RequestHeavy)
		if err == nil {
			b.Release()
		}
		ch <- err
	}()
	select {
	case err := <-ch:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("second IP blocked behind the first")
	}
}

// TestHeavyCooldown: the second heavy request from one IP waits out the
// cooldown and reports the wait.
func TestHeavyCooldown(t *testing.T) {
	l := NewRateLimiter(80 * time.Millisecond)
	ctx := context.Background()

	p, err := l.Acquire(ctx, "10.0.0.1", RequestHeavy)
	if err != nil {
		t.Fatal(err)
	}
	p.Release()

	start := time.Now()
	p2, err := l.Acquire(ctx, "10.0.0.1", RequestHeavy)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Release()
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Errorf("second heavy request waited only %s, want the cooldown", waited)
	}
	if !p2.WaitNotice {
		t.Error("cooldown wait not reported on the permit")
	}
}

// TestAcquireCancelled: a cancelled context unblocks a queued request
// with the context error.
func TestAcquireCancelled(t *testing.T) {
	l := NewRateLimiter(0)

	first, err := l.Acquire(context.Background(), "10.0.0.1", RequestGeneral)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx, "10.0.0.1", RequestGeneral)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Acquire = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire never returned")
	}
}

// TestNilLimiter: a nil limiter hands out nil permits and Release on a
// nil permit is a no-op.
func TestNilLimiter(t *testing.T) {
	var l *RateLimiter
	p, err := l.Acquire(context.Background(), "10.0.0.1", RequestHeavy)
	if err != nil {
		t.Fatal(err)
	}
	p.Release()
}
