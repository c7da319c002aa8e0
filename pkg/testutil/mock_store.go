package testutil

import (
	"context"
	"time"

	"influx-mirror/pkg/store"
)

// QueryAfterCall records one QueryAfter invocation.
type QueryAfterCall struct {
	Bucket string
	Since  time.Time
}

// WriteCall records one Write invocation.
type WriteCall struct {
	Bucket string
	Points []store.DataPoint
}

// MockStore is a reusable mock that implements store.Store for tests. It
// records every call, and behaves like a tiny in-memory store: a successful
// Write advances the bucket's latest timestamp, and QueryAfter filters the
// configured points by the since boundary. That keeps watermark tests honest
// across repeated sync cycles.
type MockStore struct {
	PingReturn         bool
	LatestByBucket     map[string]time.Time
	LatestError        error
	PointsByBucket     map[string][]store.DataPoint
	QueryAfterError    error
	WriteError         error
	WriteErrorByBucket map[string]error

	PingCalls       int
	LatestCalls     []string
	QueryAfterCalls []QueryAfterCall
	WriteCalls      []WriteCall
	CloseCalled     bool
}

func (m *MockStore) Ping(ctx context.Context) bool {
	m.PingCalls++
	return m.PingReturn
}

func (m *MockStore) LatestTimestamp(ctx context.Context, bucket string) (time.Time, bool, error) {
	m.LatestCalls = append(m.LatestCalls, bucket)
	if m.LatestError != nil {
		return time.Time{}, false, m.LatestError
	}
	t, ok := m.LatestByBucket[bucket]
	return t, ok, nil
}

func (m *MockStore) QueryAfter(ctx context.Context, bucket string, since time.Time) ([]store.DataPoint, error) {
	m.QueryAfterCalls = append(m.QueryAfterCalls, QueryAfterCall{Bucket: bucket, Since: since})
	if m.QueryAfterError != nil {
		return nil, m.QueryAfterError
	}

	var points []store.DataPoint
	for _, p := range m.PointsByBucket[bucket] {
		if p.Time.After(since) {
			points = append(points, p)
		}
	}
	return points, nil
}

func (m *MockStore) Write(ctx context.Context, bucket string, points []store.DataPoint) error {
	m.WriteCalls = append(m.WriteCalls, WriteCall{Bucket: bucket, Points: points})
	if err := m.WriteErrorByBucket[bucket]; err != nil {
		return err
	}
	if m.WriteError != nil {
		return m.WriteError
	}

	if m.LatestByBucket == nil {
		m.LatestByBucket = make(map[string]time.Time)
	}
	for _, p := range points {
		if p.Time.After(m.LatestByBucket[bucket]) {
			m.LatestByBucket[bucket] = p.Time
		}
	}
	return nil
}

func (m *MockStore) Close() {
	m.CloseCalled = true
}
