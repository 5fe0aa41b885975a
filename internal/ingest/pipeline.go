// Package ingest wires the two workers standing between raw device
// readings and the anomaly-fusion pipeline: IngestWorker is the
// single writer into each device's rolling window; InferenceWorker is one
// of the window's readers, periodically emitting frames, scoring them,
// and fusing the result into ranked incidents. Grounded on
// original_source/monitoring/ai-analytics/anomaly_detector.py's
// sense→score→fuse loop, restructured onto the bus/worker idiom used
// throughout internal/supervisor.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/eventbus"
	"github.com/hankooktire/control-plane/internal/feature"
	"github.com/hankooktire/control-plane/internal/fusion"
	"github.com/hankooktire/control-plane/internal/scorer"
)

// Bus topics for the raw reading ingress and the fused incident egress.
const (
	TopicReadings  = "readings"
	TopicIncidents = "incidents"
)

// Windows owns one rolling Window per device, created on first sight.
// IngestWorker is the sole writer into any given Window; InferenceWorker
// only reads Snapshot copies .
type Windows struct {
	mu       sync.Mutex
	k        int
	duration time.Duration
	byDevice map[string]*feature.Window
}

// NewWindows builds a Windows keyed on a K-or-duration bound shared by
// every device .
func NewWindows(k int, duration time.Duration) *Windows {
	return &Windows{k: k, duration: duration, byDevice: make(map[string]*feature.Window)}
}

// For returns the window for deviceID, creating an empty one on first use.
func (w *Windows) For(deviceID string) *feature.Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.byDevice[deviceID]
	if !ok {
		win = feature.NewWindow(w.k, w.duration)
		w.byDevice[deviceID] = win
	}
	return win
}

// Snapshot returns a copy of the device→window map as it stood at the
// call, stable to range over even while IngestWorker adds new devices.
func (w *Windows) Snapshot() map[string]*feature.Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*feature.Window, len(w.byDevice))
	for id, win := range w.byDevice {
		out[id] = win
	}
	return out
}

// IngestWorker validates each reading published to TopicReadings and
// appends it to that device's window. A reading missing every required
// channel is dropped and reported via onDrop rather than ever reaching a
// window .
type IngestWorker struct {
	bus     *eventbus.Bus
	windows *Windows
	clk     clock.Clock
	onDrop  func(reading domain.Reading, reason string)
}

// NewIngestWorker builds an IngestWorker. onDrop may be nil.
func NewIngestWorker(bus *eventbus.Bus, windows *Windows, clk clock.Clock, onDrop func(domain.Reading, string)) *IngestWorker {
	if onDrop == nil {
		onDrop = func(domain.Reading, string) {}
	}
	return &IngestWorker{bus: bus, windows: windows, clk: clk, onDrop: onDrop}
}

// Run subscribes to TopicReadings and feeds windows until ctx is
// cancelled, the worker-supervisor contract every long-running task in
// every long-running worker in this process follows.
func (w *IngestWorker) Run(ctx context.Context) error {
	ch, unsubscribe := w.bus.Subscribe(TopicReadings)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			reading, ok := env.Payload.(domain.Reading)
			if !ok {
				continue
			}
			w.ingestOne(reading)
		}
	}
}

func (w *IngestWorker) ingestOne(reading domain.Reading) {
	res := feature.Validate(&reading)
	if res.Dropped {
		w.onDrop(reading, "missing every required channel")
		return
	}
	reading.RawQuality = feature.Quality(res)
	w.windows.For(reading.DeviceID).Add(reading, w.clk.WallNow())
}

// InferenceWorker is the cold path's periodic reader: every interval it
// emits a frame per device with a warm window, scores it against every
// registered Scorer, and fuses the scores into ranked incidents
// . AutoRecoverable incidents flow onward to a recovery
// engine via onIncidents, same boundary the health-probe path uses.
type InferenceWorker struct {
	windows     *Windows
	scaler      *feature.Scaler
	registry    *scorer.Registry
	fusionCfg   fusion.Config
	clk         clock.Clock
	interval    time.Duration
	bus         *eventbus.Bus
	onIncidents func(incidents []domain.Incident)
}

// NewInferenceWorker builds an InferenceWorker. bus and onIncidents may
// both be nil (results are simply not published/dispatched).
func NewInferenceWorker(windows *Windows, sc *feature.Scaler, registry *scorer.Registry, fusionCfg fusion.Config, clk clock.Clock, interval time.Duration, bus *eventbus.Bus, onIncidents func([]domain.Incident)) *InferenceWorker {
	if onIncidents == nil {
		onIncidents = func([]domain.Incident) {}
	}
	return &InferenceWorker{
		windows: windows, scaler: sc, registry: registry, fusionCfg: fusionCfg,
		clk: clk, interval: interval, bus: bus, onIncidents: onIncidents,
	}
}

// RunOnce emits, scores, and fuses one cycle across every known device,
// returning the ranked, deduplicated incidents .
func (w *InferenceWorker) RunOnce(ctx context.Context, now time.Time) []domain.Incident {
	var all []domain.Incident
	for deviceID, win := range w.windows.Snapshot() {
		frame, ok := feature.Emit(deviceID, win, w.scaler, now)
		if !ok {
			continue // cold start, window hasn't warmed up yet
		}
		scores := w.registry.ScoreAll(ctx, frame)
		all = append(all, fusion.Fuse(w.fusionCfg, deviceID, scores, frame.Quality, now)...)
	}

	ranked := fusion.Rank(fusion.Dedupe(all))
	if w.bus != nil && len(ranked) > 0 {
		w.bus.PublishIncidentsJSON(TopicIncidents, ranked)
	}
	w.onIncidents(ranked)
	return ranked
}

// Run drives RunOnce on interval until ctx is cancelled.
func (w *InferenceWorker) Run(ctx context.Context) error {
	timer := w.clk.NewTimer(w.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			w.RunOnce(ctx, w.clk.WallNow())
			timer = w.clk.NewTimer(w.interval)
		}
	}
}
