package mirror

import (
	"context"
	"log"
	"time"

	"influx-mirror/pkg/oplog"
	"influx-mirror/pkg/store"
	"influx-mirror/pkg/syncer"
)

// Mirror drives the replication cycle as an explicit two-state loop: probe
// the remote store, and when it answers, sync every configured series in
// declaration order. Both states end in the same fixed cooldown; there is no
// backoff, an unreachable remote is the steady state of an unstable link and
// is re-probed at the same cadence.
type Mirror struct {
	remote   store.Store
	series   []syncer.SeriesSpec
	engine   *syncer.Engine
	oplog    *oplog.Logger
	logger   *log.Logger
	cooldown time.Duration
}

func New(remote store.Store, series []syncer.SeriesSpec, engine *syncer.Engine, olog *oplog.Logger, logger *log.Logger, cooldown time.Duration) *Mirror {
	return &Mirror{
		remote:   remote,
		series:   series,
		engine:   engine,
		oplog:    olog,
		logger:   logger,
		cooldown: cooldown,
	}
}

// Run loops until ctx is cancelled and returns ctx.Err(). Cancellation is
// observed at the cooldown sleep and between series; an in-flight series
// write is allowed to finish.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.remote.Ping(ctx) {
			m.syncAll(ctx)
		} else {
			// Expected on an unstable link: terminal-visible only, no oplog
			// record, cool down and re-probe.
			m.logger.Printf("remote unreachable, re-probing in %s", m.cooldown)
		}

		if err := m.sleep(ctx); err != nil {
			return err
		}
	}
}

func (m *Mirror) syncAll(ctx context.Context) {
	m.oplog.Debugf(ctx, "successfully pinged the remote database")

	for _, spec := range m.series {
		if ctx.Err() != nil {
			return
		}

		m.oplog.Debugf(ctx, "starting mirror of bucket: %s", spec.Bucket)
		outcome, err := m.engine.SyncSeries(ctx, spec)
		if err != nil {
			// One series failing must not stop its siblings
			m.logger.Printf("bucket %s: %v", spec.Bucket, err)
			m.oplog.Errorf(ctx, "sync failed for bucket %s: %v", spec.Bucket, err)
			continue
		}

		if outcome.NoChange() {
			m.logger.Printf("bucket %s: no new data", spec.Bucket)
			continue
		}
		m.logger.Printf("bucket %s: mirrored %d points", spec.Bucket, outcome.Synced)
		m.oplog.Debugf(ctx, "finished mirroring %d data points in the bucket: %s", outcome.Synced, spec.Bucket)
	}
}

func (m *Mirror) sleep(ctx context.Context) error {
	timer := time.NewTimer(m.cooldown)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
