package obsmetrics

// Observer receives lifecycle events from a driver Ring and a fixed buffer
// Pool. It is the seam a caller uses to wire ringio into an external metrics
// system without depending on the Metrics type directly.
type Observer interface {
	// ObserveSubmit is called once per operation handed to the kernel.
	ObserveSubmit(opKind string)

	// ObserveComplete reports one completed operation. err is the
	// operation's own result, not a driver-level failure to submit. The
	// driver, fs and net packages do not call it.
	ObserveComplete(opKind string, bytes uint64, latencyNs uint64, err error)

	// ObserveQueueDepth samples the submission backlog depth at the end of
	// each Flush, after as much of the backlog as fits has moved into the
	// submission queue.
	ObserveQueueDepth(depth int)

	// ObserveBufferWait is called once per fixed buffer Pool.CheckOut,
	// reporting whether the caller had to wait for a buffer of the given
	// size class to free up.
	ObserveBufferWait(class int, waited bool)
}

// NoOpObserver discards all events. It is the default Observer when none is
// configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(opKind string)                                    {}
func (NoOpObserver) ObserveComplete(opKind string, bytes, latencyNs uint64, err error) {}
func (NoOpObserver) ObserveQueueDepth(depth int)                                     {}
func (NoOpObserver) ObserveBufferWait(class int, waited bool)                        {}

var _ Observer = NoOpObserver{}

// MetricsObserver adapts a Metrics instance to the Observer interface.
type MetricsObserver struct {
	Metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{Metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(opKind string) {}

func (o *MetricsObserver) ObserveComplete(opKind string, bytes uint64, latencyNs uint64, err error) {
	o.Metrics.RecordComplete(opKind, bytes, latencyNs, err == nil)
}

func (o *MetricsObserver) ObserveQueueDepth(depth int) {
	o.Metrics.RecordQueueDepth(uint32(depth))
}

func (o *MetricsObserver) ObserveBufferWait(class int, waited bool) {
	o.Metrics.RecordBufferWait(waited)
}

var _ Observer = (*MetricsObserver)(nil)
