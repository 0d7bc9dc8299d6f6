package ringio

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ringio/ringio/internal/buf/fixed"
	"github.com/ringio/ringio/internal/driver"
	"github.com/ringio/ringio/internal/obslog"
	"github.com/ringio/ringio/internal/obsmetrics"
)

// driveTimeout bounds how long the drive loop's Tick blocks waiting for a
// completion before re-checking for shutdown, so a canceled runtime stops
// within about 100ms.
const driveTimeout = 100 * time.Millisecond

// Builder configures a Runtime before it starts driving its ring.
type Builder struct {
	entries      uint32
	logger       *obslog.Logger
	metrics      *obsmetrics.Metrics
	observer     obsmetrics.Observer
	fixedClasses map[int]int
}

// NewBuilder returns a Builder with defaults matching driver.DefaultEntries.
// Unless WithObserver is given, Build reports through a MetricsObserver over
// the WithMetrics instance, or over a fresh Metrics when none was given.
func NewBuilder() *Builder {
	return &Builder{entries: driver.DefaultEntries}
}

// WithEntries sets the submission queue depth.
func (b *Builder) WithEntries(entries uint32) *Builder {
	b.entries = entries
	return b
}

// WithLogger sets the logger used by the runtime and the Rings it creates.
func (b *Builder) WithLogger(logger *obslog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics attaches a Metrics instance, wrapped as the runtime's
// Observer unless WithObserver overrides it. The caller keeps the returned
// *Metrics pointer to read snapshots via (*Runtime).Metrics.
func (b *Builder) WithMetrics(m *obsmetrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithObserver sets an explicit Observer, taking precedence over WithMetrics.
func (b *Builder) WithObserver(o obsmetrics.Observer) *Builder {
	b.observer = o
	return b
}

// WithFixedBufferClass pre-registers count buffers of the given capacity,
// available from the Runtime's FixedBuffers pool via CheckOut(capacity).
// May be called more than once to configure multiple size classes.
func (b *Builder) WithFixedBufferClass(capacity, count int) *Builder {
	if b.fixedClasses == nil {
		b.fixedClasses = make(map[int]int)
	}
	b.fixedClasses[capacity] += count
	return b
}

// Build creates the Runtime's Ring without starting the drive loop. Run
// starts driving it.
func (b *Builder) Build() (*Runtime, error) {
	logger := b.logger
	if logger == nil {
		logger = obslog.Default()
	}

	observer := b.observer
	metrics := b.metrics
	if observer == nil {
		if metrics == nil {
			metrics = obsmetrics.NewMetrics()
		}
		observer = obsmetrics.NewMetricsObserver(metrics)
	}

	ring, err := driver.NewRing(driver.Config{Entries: b.entries, Logger: logger, Observer: observer})
	if err != nil {
		return nil, WrapError("build", err)
	}

	var fixedPool *fixed.Pool
	if len(b.fixedClasses) > 0 {
		fixedPool, err = buildFixedPool(ring, observer, b.fixedClasses)
		if err != nil {
			ring.Close()
			return nil, err
		}
	}

	return &Runtime{ring: ring, logger: logger, metrics: metrics, fixedBuffers: fixedPool, stopped: make(chan struct{})}, nil
}

// buildFixedPool allocates the configured size classes, registers every
// buffer with the kernel in one flat IORING_REGISTER_BUFFERS call (classes
// sorted by capacity for a deterministic registration order), and records
// each class's offset into that flat registration so Handle.Index returns
// the global buf_index fixed-buffer ops require.
func buildFixedPool(ring *driver.Ring, observer obsmetrics.Observer, classes map[int]int) (*fixed.Pool, error) {
	capacities := make([]int, 0, len(classes))
	for capacity := range classes {
		capacities = append(capacities, capacity)
	}
	sort.Ints(capacities)

	pool := fixed.NewPool(observer)
	for _, capacity := range capacities {
		pool.AddClass(capacity, classes[capacity])
	}

	var backing [][]byte
	bases := make(map[int]int, len(capacities))
	for _, capacity := range capacities {
		bases[capacity] = len(backing)
		backing = append(backing, pool.Backing(capacity)...)
	}
	if err := ring.RegisterBuffers(backing); err != nil {
		return nil, WrapDriverError("build", err)
	}
	for _, capacity := range capacities {
		pool.SetBase(capacity, bases[capacity])
	}
	return pool, nil
}

// Runtime drives one io_uring instance on a dedicated, locked OS thread.
// Operations submitted through fs/net wrappers reach the same Ring via a
// context.Context carrying the driver handle (see driver.NewContext),
// since Go has no thread-local storage to stash it in implicitly.
type Runtime struct {
	ring         *driver.Ring
	logger       *obslog.Logger
	metrics      *obsmetrics.Metrics
	fixedBuffers *fixed.Pool

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Ring exposes the underlying driver.Ring, for code constructing a
// context via driver.NewContext.
func (rt *Runtime) Ring() *driver.Ring { return rt.ring }

// Metrics returns the runtime's Metrics instance, or nil if the Builder
// was configured with an external Observer instead.
func (rt *Runtime) Metrics() *obsmetrics.Metrics { return rt.metrics }

// FixedBuffers returns the runtime's registered fixed-buffer pool, or nil
// if the Builder was never given a WithFixedBufferClass. Callers pass a
// *fixed.Handle checked out from it to fs.File's *Fixed methods.
func (rt *Runtime) FixedBuffers() *fixed.Pool { return rt.fixedBuffers }

// CheckOutFixed blocks until a fixed buffer of at least the given capacity
// is available, translating pool errors into a structured *Error through
// WrapFixedError. Returns CodeInvalidInput if the Builder was given no
// WithFixedBufferClass at all; a capacity larger than every configured
// class fails with the pool's own error, wrapped as CodeOS.
func (rt *Runtime) CheckOutFixed(ctx context.Context, capacity int) (*fixed.Handle, error) {
	if rt.fixedBuffers == nil {
		return nil, NewError("check_out_fixed", CodeInvalidInput, "runtime has no fixed buffer classes registered")
	}
	h, err := rt.fixedBuffers.CheckOut(ctx, capacity)
	if err != nil {
		return nil, WrapFixedError("check_out_fixed", err)
	}
	return h, nil
}

// Context returns ctx with this runtime's Ring attached, for handing to
// fs/net constructors.
func (rt *Runtime) Context(ctx context.Context) context.Context {
	return driver.NewContext(ctx, rt.ring)
}

// Start launches the drive loop on its own locked OS thread and returns
// immediately. The loop runs until ctx is done or Close is called.
func (rt *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	rt.wg.Add(1)
	go rt.driveLoop(ctx)
}

// driveLoop is the runtime's sole goroutine that calls Ring.Tick, matching
// the teacher's ioLoop: one goroutine locked to one OS thread, continually
// flushing submissions and waiting for completions, until asked to stop.
func (rt *Runtime) driveLoop(ctx context.Context) {
	defer rt.wg.Done()
	defer close(rt.stopped)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := rt.logger.WithOp("drive_loop")
	log.Debug("starting")

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping")
			return
		default:
		}

		if err := rt.ring.Tick(int64(driveTimeout)); err != nil {
			log.Warn("tick failed", "err", err)
		}
	}
}

// Run starts the drive loop and blocks until ctx is done, then closes the
// runtime. It is the convenience entry point for programs that don't need
// to do anything else on the thread that owns the runtime.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.Start(ctx)
	<-ctx.Done()
	return rt.Close()
}

// Spawn runs fn on a new goroutine, returning a channel that receives fn's
// error once it completes. It exists so callers composing multiple
// concurrent operations against the same Runtime (e.g. an echo server
// accepting and handling connections) have a uniform way to track them
// without reaching for a separate errgroup in the common case.
func (rt *Runtime) Spawn(fn func() error) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- fn()
	}()
	return result
}

// Close stops the drive loop and tears down the ring. Blocks until the
// drive loop has exited.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()
	return rt.ring.Close()
}
