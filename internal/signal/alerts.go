package signal

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"spotwatch/internal/telemetry"
	"spotwatch/pkg/types"
)

// SnapshotSource provides the current per-key metric snapshots, usually
// the metrics aggregator.
type SnapshotSource interface {
	Snapshot() map[string]types.MetricsSnapshot
}

const (
	sampleInterval = time.Second
	scoreEvery     = 5 // score once per this many sample ticks

	// trailCap bounds the retained alert history.
	trailCap = 200

	maxScore      = 100
	retScoreCap   = 40
	retScoreScale = 2000 // fractional return to score points
	retThreshold  = 0.01
	imbThreshold  = 0.60 // fractional near-mid bid share
	imbScoreScale = 100
)

// Engine samples the aggregator into per-key windows and periodically
// scores the short window, emitting alerts above the thresholds.
type Engine struct {
	agg SnapshotSource

	thresholdOrange int
	thresholdGreen  int
	cooldown        time.Duration

	mu        sync.Mutex
	states    map[string]*keyState
	lastAlert map[string]int64 // key -> ms of last emission
	trail     []types.Alert

	tel    *telemetry.Metrics
	logger *slog.Logger
}

// NewEngine creates the alert engine over the aggregator's output.
func NewEngine(agg SnapshotSource, thresholdOrange, thresholdGreen int, cooldown time.Duration, tel *telemetry.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		agg:             agg,
		thresholdOrange: thresholdOrange,
		thresholdGreen:  thresholdGreen,
		cooldown:        cooldown,
		states:          make(map[string]*keyState),
		lastAlert:       make(map[string]int64),
		tel:             tel,
		logger:          logger.With("component", "signal"),
	}
}

// Run samples every second and scores every fifth tick until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			e.Observe(now)
			tick++
			if tick%scoreEvery == 0 {
				e.Score(now)
			}
		}
	}
}

// Observe feeds the current aggregator snapshots into the key windows.
func (e *Engine) Observe(now time.Time) {
	snaps := e.agg.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, snap := range snaps {
		ks, ok := e.states[key]
		if !ok {
			ks = newKeyState()
			e.states[key] = ks
		}
		ks.observe(snap)
	}
}

// Score evaluates every tracked key and records alerts that clear the
// green threshold, subject to the per-key cooldown.
func (e *Engine) Score(now time.Time) {
	snaps := e.agg.Snapshot()
	nowMS := now.UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, ks := range e.states {
		snap, ok := snaps[key]
		if !ok {
			continue
		}
		score := e.scoreKey(ks, snap, nowMS)
		level := e.level(score)
		if level == types.LevelNone {
			continue
		}
		if last, ok := e.lastAlert[key]; ok && nowMS-last < e.cooldown.Milliseconds() {
			continue
		}
		e.lastAlert[key] = nowMS
		alert := types.Alert{Key: key, Score: score, Level: level, Snapshot: snap, EmittedAt: nowMS}
		e.trail = append(e.trail, alert)
		if len(e.trail) > trailCap {
			e.trail = e.trail[len(e.trail)-trailCap:]
		}
		e.tel.AlertsTotal.WithLabelValues(string(level)).Inc()
		e.logger.Info("alert", "key", key, "score", score, "level", level)
	}
}

// scoreKey computes the 0-100 score for one key. A short window with too
// few samples scores zero.
func (e *Engine) scoreKey(ks *keyState, snap types.MetricsSnapshot, nowMS int64) int {
	if len(ks.short().samples) < minScoreSamples {
		return 0
	}

	score := 0.0
	if ret, ok := ks.ret30s(nowMS); ok && ret > retThreshold {
		pts := ret * retScoreScale
		if pts > retScoreCap {
			pts = retScoreCap
		}
		score += pts
	}
	if snap.ImbalancePct != nil {
		if imb := *snap.ImbalancePct / 100; imb > imbThreshold {
			score += (imb - imbThreshold) * imbScoreScale
		}
	}

	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}
	return int(math.Round(score))
}

// level maps a score to its alert level.
func (e *Engine) level(score int) types.AlertLevel {
	switch {
	case score >= e.thresholdOrange:
		return types.LevelOrange
	case score >= e.thresholdGreen:
		return types.LevelGreen
	default:
		return types.LevelNone
	}
}

// Trail returns a copy of the alert history, oldest first.
func (e *Engine) Trail() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Alert, len(e.trail))
	copy(out, e.trail)
	return out
}
