// Package signal turns the aggregator's metric snapshots into scored
// alerts. Each normalized key keeps short rolling windows of mid/flow
// samples; a scorer runs over the shortest window and emits alerts above
// the configured thresholds, rate-limited by a per-key cooldown.
package signal

import (
	"time"

	"spotwatch/pkg/types"
)

// Window spans tracked per key.
var windowSpans = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// retLookback is how far back the scorer's return measurement reaches.
const retLookback = 30 * time.Second

// minScoreSamples is the floor below which the short window is too thin
// to score.
const minScoreSamples = 30

// sample is one observation of a key's derived metrics.
type sample struct {
	ts      int64 // ms
	mid     float64
	bidSize float64
	askSize float64
	imb     *float64 // percent, nil when the band was empty
}

// window is a time-bounded sample buffer admitting at most one sample
// per second, holding at most span-seconds entries.
type window struct {
	span    time.Duration
	samples []sample
}

func newWindow(span time.Duration) *window {
	return &window{span: span, samples: make([]sample, 0, int(span/time.Second))}
}

// observe admits a sample unless one already landed in the same second,
// then evicts everything older than the span.
func (w *window) observe(s sample) {
	if n := len(w.samples); n > 0 && s.ts-w.samples[n-1].ts < 1000 {
		return
	}
	w.samples = append(w.samples, s)

	cutoff := s.ts - w.span.Milliseconds()
	i := 0
	for i < len(w.samples) && w.samples[i].ts < cutoff {
		i++
	}
	w.samples = w.samples[i:]
	if max := int(w.span / time.Second); len(w.samples) > max {
		w.samples = w.samples[len(w.samples)-max:]
	}
}

// latest returns the newest sample.
func (w *window) latest() (sample, bool) {
	if len(w.samples) == 0 {
		return sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// at returns the newest sample at or before ts.
func (w *window) at(ts int64) (sample, bool) {
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].ts <= ts {
			return w.samples[i], true
		}
	}
	return sample{}, false
}

// keyState is the per-key feature history, one window per span.
type keyState struct {
	windows []*window
}

func newKeyState() *keyState {
	ks := &keyState{windows: make([]*window, len(windowSpans))}
	for i, span := range windowSpans {
		ks.windows[i] = newWindow(span)
	}
	return ks
}

// observe feeds one aggregator snapshot into every window.
func (ks *keyState) observe(snap types.MetricsSnapshot) {
	s := sample{
		ts:      snap.TS,
		mid:     snap.Mid,
		bidSize: snap.BandBid,
		askSize: snap.BandAsk,
		imb:     snap.ImbalancePct,
	}
	for _, w := range ks.windows {
		w.observe(s)
	}
}

// short returns the shortest window, the one the scorer reads.
func (ks *keyState) short() *window {
	return ks.windows[0]
}

// ret30s computes the fractional mid return over the lookback from the
// short window. ok is false when the window lacks a reference sample.
func (ks *keyState) ret30s(now int64) (float64, bool) {
	w := ks.short()
	cur, ok := w.latest()
	if !ok {
		return 0, false
	}
	ref, ok := w.at(now - retLookback.Milliseconds())
	if !ok || ref.mid <= 0 {
		return 0, false
	}
	return (cur.mid - ref.mid) / ref.mid, true
}
