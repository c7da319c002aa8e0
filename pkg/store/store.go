package store

import (
	"context"
	"time"
)

// DataPoint is a single time-stamped row read from a bucket. It is built once
// when a query result is parsed and written to the destination verbatim, with
// the field value keeping whatever type the source returned.
type DataPoint struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Store defines the operations the mirror needs from one InfluxDB instance.
// This allows us to mock it easily in tests without depending on a live
// database.
type Store interface {
	// Ping reports whether the instance is reachable right now.
	Ping(ctx context.Context) bool

	// LatestTimestamp returns the newest point timestamp in the bucket.
	// The second return is false when the bucket holds no data.
	LatestTimestamp(ctx context.Context, bucket string) (time.Time, bool, error)

	// QueryAfter returns every point in the bucket with a timestamp strictly
	// greater than since.
	QueryAfter(ctx context.Context, bucket string, since time.Time) ([]DataPoint, error)

	// Write commits the batch to the bucket in one call. Partial-write
	// semantics are whatever the underlying store provides.
	Write(ctx context.Context, bucket string, points []DataPoint) error

	Close()
}
