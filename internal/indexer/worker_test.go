package indexer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRunExecutesFn(t *testing.T) {
	w := NewWorker(1)
	var ran atomic.Bool
	err := w.Run(context.Background(), func() error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !ran.Load() {
		t.Error("fn was not executed")
	}
}

func TestWorkerRunPropagatesError(t *testing.T) {
	w := NewWorker(1)
	want := errors.New("boom")
	err := w.Run(context.Background(), func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}

func TestWorkerRunSerializesAtConcurrencyOne(t *testing.T) {
	w := NewWorker(1)
	var active atomic.Int32
	var maxActive atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			w.Run(context.Background(), func() error {
				n := active.Add(1)
				for {
					if old := maxActive.Load(); n > old {
						if maxActive.CompareAndSwap(old, n) {
							break
						}
						continue
					}
					break
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent executions = %d, want 1", maxActive.Load())
	}
}

func TestWorkerRunLockedExecutesFn(t *testing.T) {
	w := NewWorker(2)
	var ran bool
	if err := w.RunLocked(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("RunLocked() error: %v", err)
	}
	if !ran {
		t.Error("fn was not executed")
	}
}

func TestNewWorkerClampsNonPositiveConcurrency(t *testing.T) {
	w := NewWorker(0)
	if w.sem == nil {
		t.Fatal("semaphore should be initialized even for concurrency <= 0")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Run() on worker built with concurrency 0 error: %v", err)
	}
}
