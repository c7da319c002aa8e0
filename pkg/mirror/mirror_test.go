package mirror

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"influx-mirror/pkg/oplog"
	"influx-mirror/pkg/store"
	"influx-mirror/pkg/syncer"
	"influx-mirror/pkg/testutil"
)

var recovery = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func runUntil(t *testing.T, m *Mirror, d time.Duration) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(d)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
		return nil
	}
}

func TestRun_UnreachableRemoteStaysProbing(t *testing.T) {
	remote := &testutil.MockStore{PingReturn: false}
	local := &testutil.MockStore{}
	logDest := &testutil.MockStore{}
	olog := oplog.NewWithClock(logDest, &bytes.Buffer{}, nil)

	series := []syncer.SeriesSpec{{Bucket: "Sensors", Source: remote, Dest: local}}
	m := New(remote, series, syncer.NewEngine(recovery), olog, testLogger(), 5*time.Millisecond)

	err := runUntil(t, m, 40*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Three consecutive failed probes keep the loop in Probing: the engine
	// never runs and nothing is written anywhere, an unreachable remote is
	// not an error.
	if remote.PingCalls < 3 {
		t.Errorf("expected at least 3 probes, got %d", remote.PingCalls)
	}
	if len(remote.QueryAfterCalls) != 0 || len(local.LatestCalls) != 0 {
		t.Error("expected zero sync engine invocations while unreachable")
	}
	if len(logDest.WriteCalls) != 0 {
		t.Errorf("expected zero oplog writes while unreachable, got %d", len(logDest.WriteCalls))
	}
}

func TestRun_OneSeriesFailureDoesNotStopSiblings(t *testing.T) {
	pointTime := recovery.Add(time.Hour)
	remote := &testutil.MockStore{
		PingReturn: true,
		PointsByBucket: map[string][]store.DataPoint{
			"A": {{Measurement: "A", Fields: map[string]interface{}{"v": 1.0}, Time: pointTime}},
			"B": {{Measurement: "B", Fields: map[string]interface{}{"v": 2.0}, Time: pointTime}},
		},
	}
	local := &testutil.MockStore{
		WriteErrorByBucket: map[string]error{"A": errors.New("write refused")},
	}
	logDest := &testutil.MockStore{}
	olog := oplog.NewWithClock(logDest, &bytes.Buffer{}, nil)

	series := []syncer.SeriesSpec{
		{Bucket: "A", Source: remote, Dest: local},
		{Bucket: "B", Source: remote, Dest: local},
	}
	m := New(remote, series, syncer.NewEngine(recovery), olog, testLogger(), 10*time.Millisecond)

	if err := runUntil(t, m, 30*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// B's watermark must have advanced despite A failing every cycle
	if got := local.LatestByBucket["B"]; !got.Equal(pointTime) {
		t.Errorf("expected B watermark %v, got %v", pointTime, got)
	}
	if _, ok := local.LatestByBucket["A"]; ok {
		t.Error("expected A watermark to stay unset")
	}

	// A's failure was routed to the oplog as an ERROR record
	foundError := false
	for _, call := range logDest.WriteCalls {
		for _, p := range call.Points {
			msg, _ := p.Fields["Message"].(string)
			if p.Tags["LOG_LEVEL"] == oplog.LevelError && strings.Contains(msg, `"A"`) {
				foundError = true
			}
		}
	}
	if !foundError {
		t.Error("expected an ERROR oplog record naming bucket A")
	}
}

func TestRun_CancellationDuringCooldown(t *testing.T) {
	remote := &testutil.MockStore{PingReturn: false}
	logDest := &testutil.MockStore{}
	olog := oplog.NewWithClock(logDest, &bytes.Buffer{}, nil)

	// Hour-long cooldown: a prompt return proves cancellation is observed at
	// the sleep, not after it.
	m := New(remote, nil, syncer.NewEngine(recovery), olog, testLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation during cooldown")
	}
}

func TestRun_SeriesSyncedInDeclarationOrder(t *testing.T) {
	remote := &testutil.MockStore{PingReturn: true}
	local := &testutil.MockStore{}
	logDest := &testutil.MockStore{}
	olog := oplog.NewWithClock(logDest, &bytes.Buffer{}, nil)

	series := []syncer.SeriesSpec{
		{Bucket: "C", Source: remote, Dest: local},
		{Bucket: "A", Source: remote, Dest: local},
		{Bucket: "B", Source: remote, Dest: local},
	}
	m := New(remote, series, syncer.NewEngine(recovery), olog, testLogger(), time.Hour)

	if err := runUntil(t, m, 20*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	want := []string{"C", "A", "B"}
	if len(local.LatestCalls) != len(want) {
		t.Fatalf("expected %d watermark queries, got %d", len(want), len(local.LatestCalls))
	}
	for i, bucket := range want {
		if local.LatestCalls[i] != bucket {
			t.Errorf("expected series %d to be %s, got %s", i, bucket, local.LatestCalls[i])
		}
	}
}
