package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// latestLookbacks are tried in order when searching for the newest local
// point, so an active bucket answers from a short range instead of a
// full-history scan. Only after the deepest range comes back empty is the
// bucket treated as having no data.
var latestLookbacks = []string{"-1m", "-1h", "-6h", "-12h", "-1d", "-7d", "-14d"}

type influxStore struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	org      string
}

// NewInflux returns a Store backed by the InfluxDB instance at url.
func NewInflux(url, token, org string) Store {
	client := influxdb2.NewClient(url, token)
	return &influxStore{
		client:   client,
		queryAPI: client.QueryAPI(org),
		org:      org,
	}
}

func (s *influxStore) Ping(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	return err == nil && ok
}

func (s *influxStore) LatestTimestamp(ctx context.Context, bucket string) (time.Time, bool, error) {
	for _, lookback := range latestLookbacks {
		result, err := s.queryAPI.Query(ctx, latestQuery(bucket, lookback))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("failed to query latest point in %q: %w", bucket, err)
		}

		var newest time.Time
		found := false
		for result.Next() {
			if t := result.Record().Time(); t.After(newest) {
				newest = t
				found = true
			}
		}
		if err := result.Err(); err != nil {
			return time.Time{}, false, fmt.Errorf("failed to read latest point in %q: %w", bucket, err)
		}
		if found {
			return newest, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *influxStore) QueryAfter(ctx context.Context, bucket string, since time.Time) ([]DataPoint, error) {
	result, err := s.queryAPI.Query(ctx, afterQuery(bucket, since))
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", bucket, err)
	}

	var points []DataPoint
	for result.Next() {
		points = append(points, pointFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows from %q: %w", bucket, err)
	}
	return points, nil
}

func (s *influxStore) Write(ctx context.Context, bucket string, points []DataPoint) error {
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		batch = append(batch, influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time))
	}
	if err := s.client.WriteAPIBlocking(s.org, bucket).WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("failed to write %d points to %q: %w", len(points), bucket, err)
	}
	return nil
}

func (s *influxStore) Close() {
	s.client.Close()
}

func latestQuery(bucket, lookback string) string {
	return fmt.Sprintf(`from(bucket:%q) |> range(start: %s) |> sort(columns: ["_time"]) |> last()`, bucket, lookback)
}

// afterQuery selects points strictly newer than since. Flux range starts are
// inclusive, so the boundary is shifted by one nanosecond to keep the last
// mirrored point from being fetched again every cycle.
func afterQuery(bucket string, since time.Time) string {
	start := since.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)
	return fmt.Sprintf(`from(bucket:%q) |> range(start: time(v: %q))`, bucket, start)
}

func pointFromRecord(rec *query.FluxRecord) DataPoint {
	tags := make(map[string]string)
	for name, value := range rec.Values() {
		if reservedColumn(name) {
			continue
		}
		if s, ok := value.(string); ok {
			tags[name] = s
		}
	}
	return DataPoint{
		Measurement: rec.Measurement(),
		Tags:        tags,
		Fields:      map[string]interface{}{rec.Field(): rec.Value()},
		Time:        rec.Time(),
	}
}

func reservedColumn(name string) bool {
	switch name {
	case "_time", "_value", "_field", "_measurement", "_start", "_stop", "result", "table":
		return true
	}
	return false
}
