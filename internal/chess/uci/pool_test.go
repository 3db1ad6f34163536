package uci

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeStarter struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (f *fakeStarter) start(ctx context.Context, opt Options) (*Session, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	fake := &fakeEngine{best: "e2e4"}
	go fake.serve(inR, outW)

	s := newPipeSession(inW, outR)
	if err := s.handshake(ctx, opt); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.engines = append(f.engines, fake)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStarter) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func waitClosed(t *testing.T, e *fakeEngine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !e.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("engine process was not shut down")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolReusesIdleSession(t *testing.T) {
	starter := &fakeStarter{}
	p := newPool(1, starter.start)
	ctx := context.Background()

	s1, err := p.Acquire(ctx, Options{SkillLevel: 4})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(s1, nil)

	s2, err := p.Acquire(ctx, Options{SkillLevel: 4})
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if s2 != s1 || starter.started() != 1 {
		t.Fatalf("expected the idle session back, started=%d", starter.started())
	}
	p.Release(s2, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitClosed(t, starter.engines[0])
	if _, err := p.Acquire(ctx, Options{}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire after Close err = %v", err)
	}
}

func TestPoolEvictsIdleSessionOfOtherOptions(t *testing.T) {
	starter := &fakeStarter{}
	p := newPool(1, starter.start)
	t.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()

	s1, err := p.Acquire(ctx, Options{SkillLevel: 1})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(s1, nil)

	s2, err := p.Acquire(ctx, Options{SkillLevel: 9})
	if err != nil {
		t.Fatalf("Acquire other options: %v", err)
	}
	if s2 == s1 || starter.started() != 2 {
		t.Fatalf("expected a fresh process, started=%d", starter.started())
	}
	waitClosed(t, starter.engines[0])
	p.Release(s2, nil)
}

func TestPoolFailedSessionIsNotReused(t *testing.T) {
	starter := &fakeStarter{}
	p := newPool(1, starter.start)
	t.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()

	s1, err := p.Acquire(ctx, Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(s1, errors.New("search timed out"))
	waitClosed(t, starter.engines[0])

	s2, err := p.Acquire(ctx, Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s2 == s1 {
		t.Fatal("failed session handed out again")
	}
	p.Release(s2, nil)
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	starter := &fakeStarter{}
	p := newPool(1, starter.start)
	t.Cleanup(func() { _ = p.Close() })

	s1, err := p.Acquire(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}

	got := make(chan *Session, 1)
	go func() {
		s, err := p.Acquire(context.Background(), Options{})
		if err != nil {
			got <- nil
			return
		}
		got <- s
	}()
	time.Sleep(20 * time.Millisecond)
	p.Release(s1, nil)

	select {
	case s := <-got:
		if s != s1 {
			t.Fatalf("waiter got %p, want released %p", s, s1)
		}
		p.Release(s, nil)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestPoolRejectsInvalidOptions(t *testing.T) {
	p := newPool(1, (&fakeStarter{}).start)
	if _, err := p.Acquire(context.Background(), Options{SkillLevel: 30}); err == nil {
		t.Fatal("invalid skill accepted")
	}
}
