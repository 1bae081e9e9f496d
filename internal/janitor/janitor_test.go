package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeRepository struct {
	mu      sync.Mutex
	calls   int
	deleted int
	err     error
}

func (f *fakeRepository) DeleteExpired(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.deleted, f.err
}

func (f *fakeRepository) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartSweepsUntilCanceled(t *testing.T) {
	repo := &fakeRepository{deleted: 3}
	j := New(repo, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancelation")
	}

	if repo.callCount() == 0 {
		t.Error("expected at least one sweep")
	}
}

func TestSweepFailureKeepsTicking(t *testing.T) {
	repo := &fakeRepository{err: errors.New("connection refused")}
	j := New(repo, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	if repo.callCount() < 2 {
		t.Errorf("expected repeated sweeps despite failures, got %d", repo.callCount())
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	j := New(&fakeRepository{}, 0, zap.NewNop())
	if j.interval != time.Hour {
		t.Errorf("expected hourly default, got %v", j.interval)
	}
}
