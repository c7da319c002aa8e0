package syncer

import (
	"context"
	"fmt"
	"time"

	"influx-mirror/pkg/store"
)

// SeriesSpec names one bucket and the pair of stores it is replicated
// between. Built once at startup from configuration.
type SeriesSpec struct {
	Bucket string
	Source store.Store
	Dest   store.Store
}

// Outcome reports one successful sync attempt for one series.
type Outcome struct {
	Bucket string
	Synced int
}

// NoChange reports that the attempt found no new data.
func (o Outcome) NoChange() bool { return o.Synced == 0 }

// Error is a per-series transport or query failure. It aborts only that
// series' sync for the cycle, never its siblings.
type Error struct {
	Bucket string
	Cause  error
}

func (e *Error) Error() string { return fmt.Sprintf("sync of bucket %q failed: %v", e.Bucket, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Engine performs the incremental sync of a single series.
type Engine struct {
	recovery time.Time
}

// NewEngine returns an engine that falls back to the given recovery timestamp
// when the destination holds no data for a series.
func NewEngine(recovery time.Time) *Engine {
	return &Engine{recovery: recovery}
}

// SyncSeries copies every point newer than the destination's watermark from
// the source to the destination. The watermark is recomputed from the
// destination on every call; it is never cached across cycles.
//
// The watermark is the newest timestamp already stored, so source timestamps
// for a series are assumed non-decreasing in insertion order: a point
// backdated below the watermark is permanently skipped, and a point stamped
// far in the future blocks correctly-timed points behind it until real time
// catches up. This is an accepted limitation of the protocol.
func (e *Engine) SyncSeries(ctx context.Context, spec SeriesSpec) (Outcome, error) {
	watermark, found, err := spec.Dest.LatestTimestamp(ctx, spec.Bucket)
	if err != nil {
		return Outcome{}, &Error{Bucket: spec.Bucket, Cause: err}
	}
	if !found {
		watermark = e.recovery
	}

	points, err := spec.Source.QueryAfter(ctx, spec.Bucket, watermark)
	if err != nil {
		return Outcome{}, &Error{Bucket: spec.Bucket, Cause: err}
	}
	if len(points) == 0 {
		return Outcome{Bucket: spec.Bucket}, nil
	}

	if err := spec.Dest.Write(ctx, spec.Bucket, points); err != nil {
		return Outcome{}, &Error{Bucket: spec.Bucket, Cause: err}
	}
	return Outcome{Bucket: spec.Bucket, Synced: len(points)}, nil
}
