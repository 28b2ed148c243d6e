package detector

import (
	"context"
	"testing"
	"time"
)

func newFakePool(size int) *sessionPool {
	p := &sessionPool{sessions: make(chan *session, size)}
	for i := 0; i < size; i++ {
		s := &session{}
		p.all = append(p.all, s)
		p.sessions <- s
	}
	return p
}

func TestSessionPoolAcquireRelease(t *testing.T) {
	p := newFakePool(2)

	s1, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s2, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if s1 == s2 {
		t.Error("pool handed out the same session twice")
	}
	p.release(s1)
	p.release(s2)
	p.destroy()
}

func TestSessionPoolAcquireRespectsContext(t *testing.T) {
	p := newFakePool(1)
	held, _ := p.acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.acquire(ctx); err == nil {
		t.Error("expected error acquiring from an exhausted pool with a cancelled context")
	}

	p.release(held)
	p.destroy()
}

func TestSessionPoolDestroyWaitsForInFlight(t *testing.T) {
	p := newFakePool(2)

	held, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.destroy()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("destroy completed while a session was still held")
	case <-time.After(50 * time.Millisecond):
	}

	// Releasing into a draining pool must not panic, and unblocks destroy.
	p.release(held)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("destroy did not complete after the last session was released")
	}
}
