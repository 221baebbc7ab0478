package compare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"rangecompare/internal/history"
	"rangecompare/internal/metrics"
	"rangecompare/internal/series"
)

// Options configures a Coordinator
type Options struct {
	EntityID     string
	Unit         series.Unit
	Step         float64
	Ordering     Ordering
	FetchTimeout time.Duration    // zero disables the per-fetch timeout
	Metrics      *metrics.Metrics // optional
}

// DefaultOptions returns minutes with a step of 1 and selection ordering
func DefaultOptions(entityID string) Options {
	return Options{
		EntityID:     entityID,
		Unit:         series.Minutes,
		Step:         1,
		Ordering:     OrderSelection,
		FetchTimeout: 30 * time.Second,
	}
}

type slotState struct {
	selection Selection
	phase     Phase
	seq       uint64
	samples   []series.Sample
	err       string
	updatedAt time.Time
	cancel    context.CancelFunc // in-flight fetch of the latest seq
}

// Coordinator owns the two range selections and the comparison derived from
// them. Each slot runs fetch -> normalize -> baseline independently; a change
// to one slot never touches the other slot's series.
type Coordinator struct {
	source history.Source
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	slots   [2]slotState
	version uint64
	closed  bool
	subs    map[uint64]func(State)
	nextSub uint64

	// notifyMu serializes delivery so subscribers see versions in order
	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a coordinator. Invalid options are programmer errors and are
// rejected with series.ErrInvalidArgument.
func New(source history.Source, opts Options) (*Coordinator, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: history source is required", series.ErrInvalidArgument)
	}
	if opts.EntityID == "" {
		return nil, fmt.Errorf("%w: entity is required", series.ErrInvalidArgument)
	}
	// validate unit and step once so the pipeline cannot fail on them later
	if _, err := series.Normalize(nil, opts.Unit, opts.Step); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		source: source,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[uint64]func(State)),
	}, nil
}

// EntityID returns the entity being compared
func (c *Coordinator) EntityID() string {
	return c.opts.EntityID
}

// Start issues the default selection for both slots
func (c *Coordinator) Start(now time.Time) {
	defaults := DefaultSelections(now)
	for _, slot := range Slots {
		c.Select(slot, defaults[slot])
	}
}

// Select handles a range change for slot. It returns immediately; the fetch
// runs in the background and the new state is published when it lands.
// An incomplete selection is ignored: no fetch is issued and the slot keeps
// its current series. The return value reports whether a fetch was issued.
func (c *Coordinator) Select(slot Slot, sel Selection) bool {
	if !slot.valid() {
		log.WithField("slot", slot.String()).Warn("ignoring selection for unknown slot")
		return false
	}
	if !sel.Complete() {
		log.WithFields(log.Fields{"entity": c.opts.EntityID, "slot": slot.String()}).Debug("ignoring incomplete selection")
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	st := &c.slots[slot]
	st.seq++
	seq := st.seq
	if c.opts.Ordering == OrderSelection && st.cancel != nil {
		st.cancel()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.opts.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	st.cancel = cancel
	st.selection = sel
	st.phase = Fetching
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, cancel, slot, seq, sel)
	return true
}

// Refresh re-runs the current selection of slot, if it has one
func (c *Coordinator) Refresh(slot Slot) bool {
	if !slot.valid() {
		return false
	}
	c.mu.Lock()
	sel := c.slots[slot].selection
	c.mu.Unlock()
	return c.Select(slot, sel)
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, slot Slot, seq uint64, sel Selection) {
	defer c.wg.Done()
	defer cancel()

	entry := log.WithFields(log.Fields{
		"entity":   c.opts.EntityID,
		"slot":     slot.String(),
		"seq":      seq,
		"fetch_id": uuid.NewString(),
	})
	entry.WithFields(log.Fields{"from": sel.Start, "to": sel.End}).Debug("fetching history")

	samples, err := c.pipeline(ctx, sel)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := &c.slots[slot]
	latest := seq == st.seq
	if !latest && c.opts.Ordering == OrderSelection {
		c.mu.Unlock()
		entry.WithField("latest_seq", st.seq).Debug("discarding superseded fetch result")
		if c.opts.Metrics != nil {
			c.opts.Metrics.StaleResults.WithLabelValues(slot.String()).Inc()
		}
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		entry.WithError(err).Warn("history fetch failed, range will show no data")
		samples = []series.Sample{}
		st.err = err.Error()
	} else {
		st.err = ""
	}
	st.samples = samples
	st.updatedAt = time.Now()
	if latest {
		st.phase = Ready
		st.cancel = nil
	}
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	entry.WithFields(log.Fields{"samples": len(samples), "version": snap.Version}).Debug("slot updated")
	if c.opts.Metrics != nil {
		c.opts.Metrics.Fetches.WithLabelValues(slot.String(), outcome).Inc()
		c.opts.Metrics.Samples.WithLabelValues(slot.String()).Set(float64(len(samples)))
	}
	c.publish(snap)
}

// pipeline is fetch -> normalize -> baseline for one selection
func (c *Coordinator) pipeline(ctx context.Context, sel Selection) ([]series.Sample, error) {
	raw, err := c.source.Fetch(ctx, c.opts.EntityID, sel.Start, sel.End)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.source.Name(), err)
	}
	norm, err := series.Normalize(raw, c.opts.Unit, c.opts.Step)
	if err != nil {
		return nil, err
	}
	return series.Baseline(norm), nil
}

func (c *Coordinator) snapshotLocked() State {
	return State{
		Series1: series.Clone(c.slots[Range1].samples),
		Series2: series.Clone(c.slots[Range2].samples),
		Version: c.version,
	}
}

// State returns a copy of the current comparison
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Slots returns a view of both slots
func (c *Coordinator) Slots() [2]SlotView {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [2]SlotView
	for _, slot := range Slots {
		st := c.slots[slot]
		out[slot] = SlotView{
			Slot:      slot,
			Name:      slot.Label(),
			Selection: st.selection,
			Phase:     st.phase,
			Seq:       st.seq,
			Samples:   len(st.samples),
			Err:       st.err,
			UpdatedAt: st.updatedAt,
		}
	}
	return out
}

// Subscribe registers fn to receive every published state. It returns a
// function that removes the subscription. fn must not block for long.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) publish(snap State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	// a slower goroutine may arrive with an older snapshot
	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version

	c.mu.Lock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap.Clone())
	}
}

// Wait blocks until no fetch is in flight
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight fetches and waits for them to return.
// Results arriving after Close are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
