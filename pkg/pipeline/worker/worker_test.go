package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/csv-aggregator/pkg/pipeline/core"
	"github.com/palantir/csv-aggregator/pkg/pipeline/worker"
)

func TestProcessAll_RetriesTransient(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	failUntil := 2

	fn := core.ProcessFunc[string, string](func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failUntil {
			return "", &core.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	})

	out, err := worker.ProcessAll(context.Background(), []string{"a.csv"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        3,
		Timeout:           1 * time.Second,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out[0].Err != nil || out[0].Output != "ok" || out[0].Attempts != 3 {
		t.Fatalf("unexpected output: %#v", out[0])
	}
}

func TestProcessAll_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := core.ProcessFunc[string, string](func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	})

	out, err := worker.ProcessAll(context.Background(), []string{"a.csv"}, fn, worker.Options{
		Workers:        1,
		MaxRetries:     10,
		BackoffInitial: 1 * time.Millisecond,
		BackoffMax:     1 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out[0])
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestProcessAll_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := core.ProcessFunc[string, string](func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &core.LimitedTransientError{
			Err:          errors.New("busy"),
			ExtraRetries: 1,
		}
	})

	out, err := worker.ProcessAll(context.Background(), []string{"a.csv"}, fn, worker.Options{
		Workers:        1,
		MaxRetries:     10,
		BackoffInitial: 1 * time.Millisecond,
		BackoffMax:     1 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil {
		t.Fatalf("expected error output, got %#v", out[0])
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls (1 initial + 1 retry), got %d", got)
	}
}

func TestProcessAll_FailuresDoNotStopRun(t *testing.T) {
	t.Parallel()

	fn := core.ProcessFunc[string, string](func(_ context.Context, name string) (string, error) {
		if name == "bad.csv" {
			return "", errors.New("boom")
		}
		return "ok:" + name, nil
	})

	out, err := worker.ProcessAll(context.Background(), []string{"bad.csv", "good.csv"}, fn, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	if out[0].Err == nil || out[0].Err.Error() != "boom" {
		t.Fatalf("unexpected out[0]: %#v", out[0])
	}
	if out[1].Err != nil || out[1].Output != "ok:good.csv" {
		t.Fatalf("unexpected out[1]: %#v", out[1])
	}
}

func TestProcessAll_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	fastDone := make(chan struct{})

	fn := core.ProcessFunc[string, string](func(_ context.Context, name string) (string, error) {
		switch name {
		case "slow.csv":
			<-releaseSlow
		case "fast.csv":
			close(fastDone)
		}
		return name, nil
	})

	go func() {
		select {
		case <-fastDone:
		case <-time.After(1 * time.Second):
		}
		close(releaseSlow)
	}()

	out, err := worker.ProcessAll(context.Background(), []string{"slow.csv", "fast.csv"}, fn, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Output != "slow.csv" || out[1].Output != "fast.csv" {
		t.Fatalf("unexpected order: %#v", out)
	}
}

func TestProcessAll_SequentialWithOneWorker(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	fn := core.ProcessFunc[int, int](func(_ context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return n * 2, nil
	})

	items := []int{1, 2, 3, 4, 5}
	out, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range out {
		if r.Output != items[i]*2 {
			t.Fatalf("out[%d]=%d want %d", i, r.Output, items[i]*2)
		}
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent call, saw %d", got)
	}
}

func TestProcessAll_TimeoutIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := core.ProcessFunc[string, string](func(ctx context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})

	out, err := worker.ProcessAll(context.Background(), []string{"a.csv"}, fn, worker.Options{
		Workers:        1,
		MaxRetries:     1,
		Timeout:        10 * time.Millisecond,
		BackoffInitial: 1 * time.Millisecond,
		BackoffMax:     1 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err != nil || out[0].Output != "ok" {
		t.Fatalf("unexpected output: %#v", out[0])
	}
}

func TestProcessAll_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := core.ProcessFunc[string, string](func(_ context.Context, name string) (string, error) {
		return name, nil
	})
	out, err := worker.ProcessAll(ctx, []string{"a.csv", "b.csv"}, fn, worker.Options{Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output, got %#v", out)
	}
}

func TestProcessAll_Empty(t *testing.T) {
	t.Parallel()

	fn := core.ProcessFunc[string, string](func(_ context.Context, name string) (string, error) {
		t.Fatalf("unexpected call for %q", name)
		return "", nil
	})
	out, err := worker.ProcessAll(context.Background(), nil, fn, worker.Options{Workers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no output, got %#v", out)
	}
}
