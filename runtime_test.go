package ringio

import (
	"context"
	"testing"
	"time"

	"github.com/ringio/ringio/internal/buf/fixed"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewBuilder().WithEntries(32).Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	return rt
}

func TestRuntimeStartAndClose(t *testing.T) {
	rt := newTestRuntime(t)

	rt.Start(context.Background())
	time.Sleep(20 * time.Millisecond) // let the drive loop tick at least once

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRuntimeRunRespectsContextCancellation(t *testing.T) {
	rt := newTestRuntime(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRuntimeSpawnDeliversResult(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Start(context.Background())
	defer rt.Close()

	result := rt.Spawn(func() error { return nil })
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Spawn did not deliver a result")
	}
}

func TestRuntimeMetricsDefaultsToNonNil(t *testing.T) {
	rt := newTestRuntime(t)
	defer rt.Close()

	if rt.Metrics() == nil {
		t.Error("expected default Metrics instance")
	}
}

func TestRuntimeWithoutFixedBufferClassHasNilPool(t *testing.T) {
	rt := newTestRuntime(t)
	defer rt.Close()

	if rt.FixedBuffers() != nil {
		t.Error("expected nil FixedBuffers when no WithFixedBufferClass was configured")
	}
	if _, err := rt.CheckOutFixed(context.Background(), 4096); err == nil {
		t.Error("expected CheckOutFixed to fail without a registered class")
	}
}

func TestRuntimeFixedBufferClassesGetDistinctGlobalIndices(t *testing.T) {
	rt, err := NewBuilder().
		WithEntries(32).
		WithFixedBufferClass(4096, 2).
		WithFixedBufferClass(8192, 2).
		Build()
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	seen := make(map[uint16]bool)
	var handles []*fixed.Handle

	for _, capacity := range []int{4096, 4096, 8192, 8192} {
		h, err := rt.CheckOutFixed(ctx, capacity)
		if err != nil {
			t.Fatalf("CheckOutFixed(%d): %v", capacity, err)
		}
		if seen[h.Index()] {
			t.Fatalf("duplicate global buf_index %d across size classes", h.Index())
		}
		seen[h.Index()] = true
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Close()
	}
}
