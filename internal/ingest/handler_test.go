package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wideseries/tscore/internal/batch"
	"github.com/wideseries/tscore/internal/cache"
	"github.com/wideseries/tscore/internal/config"
	"github.com/wideseries/tscore/internal/events"
	"github.com/wideseries/tscore/internal/model"
	"github.com/wideseries/tscore/internal/rowkey"
)

func testStatements() batch.Statements {
	return batch.Statements{
		InsertRowKeyIndex:     "INSERT INTO row_key_index (metric, row_key) VALUES (?, ?)",
		InsertMetricNameIndex: "INSERT INTO metric_names (name) VALUES (?)",
		InsertTimeIndex:       "INSERT INTO time_index (name, row_time) VALUES (?, ?)",
		InsertDataPoint:       "INSERT INTO data_points (row_key, column_name, value) VALUES (?, ?, ?)",
	}
}

func testConfig() *config.Config {
	return &config.Config{
		RowWidthMillis:          1_000_000_000,
		ColumnGranularityMillis: 1,
		MinBatchLimit:           10,
	}
}

func newHandler(t *testing.T, cfg *config.Config, sub *scriptedSubmitter) (*Handler, *events.Publisher) {
	t.Helper()
	pub := events.New()
	h := New(
		cfg,
		rowkey.Spec{RowWidthMillis: cfg.RowWidthMillis, ColumnGranularityMillis: cfg.ColumnGranularityMillis},
		cache.New[string](10_000),
		cache.New[rowkey.TimedString](10_000),
		testStatements(),
		sub,
		pub,
		nil,
	)
	return h, pub
}

type scriptedSubmitter struct {
	results []error
	calls   []*gocql.Batch
}

func (s *scriptedSubmitter) Execute(_ context.Context, b *gocql.Batch) error {
	idx := len(s.calls)
	s.calls = append(s.calls, b)
	if idx < len(s.results) {
		return s.results[idx]
	}
	return nil
}

func completionCounter() (model.EventCompletionCallback, func() int) {
	n := 0
	return model.CallbackFunc(func() { n++ }), func() int { return n }
}

func TestHandleHappyPath(t *testing.T) {
	cfg := testConfig()
	sub := &scriptedSubmitter{}
	h, pub := newHandler(t, cfg, sub)
	reductions := pub.SubscribeBatchReductions()

	const T = int64(1_000_000)
	evts := []model.DataPointEvent{
		{
			Metric: "cpu",
			Tags:   []rowkey.Tag{{Name: "host", Value: "a"}},
			Point:  model.DataPoint{TimestampMillis: T, Value: 1.0, DataStoreType: "double"},
		},
		{
			Metric: "cpu",
			Tags:   []rowkey.Tag{{Name: "host", Value: "a"}},
			Point:  model.DataPoint{TimestampMillis: T + 1000, Value: 2.0, DataStoreType: "double"},
		},
	}

	cb, count := completionCounter()
	require.NoError(t, h.Handle(context.Background(), evts, cb))

	assert.Equal(t, 1, count())
	require.Len(t, sub.calls, 1)
	assert.Equal(t, 5, sub.calls[0].Size(), "1 row key + 1 metric name + 1 time index + 2 data points")

	select {
	case <-reductions:
		t.Fatal("no reduction expected when limit == N")
	default:
	}
}

func TestHandleCachedRowKeySkipsIndexWrites(t *testing.T) {
	cfg := testConfig()
	sub := &scriptedSubmitter{}
	h, _ := newHandler(t, cfg, sub)

	rowSpec := rowkey.Spec{RowWidthMillis: cfg.RowWidthMillis, ColumnGranularityMillis: cfg.ColumnGranularityMillis}
	const T = int64(500_000)
	key := rowkey.New("cpu", cfg.WriteClusterName, rowSpec.RowTime(T), "double", []rowkey.Tag{{Name: "host", Value: "a"}})
	_, inserted := h.RowKeys.CacheIfAbsent(key.CacheKey())
	require.True(t, inserted)

	evts := []model.DataPointEvent{
		{
			Metric: "cpu",
			Tags:   []rowkey.Tag{{Name: "host", Value: "a"}},
			Point:  model.DataPoint{TimestampMillis: T, Value: 1.0, DataStoreType: "double"},
		},
	}

	cb, count := completionCounter()
	require.NoError(t, h.Handle(context.Background(), evts, cb))
	assert.Equal(t, 1, count())
	require.Len(t, sub.calls, 1)
	assert.Equal(t, 1, sub.calls[0].Size(), "only the data point insert, no index writes")
}

func TestHandleAlignedTTLDropsExpiredEvent(t *testing.T) {
	cfg := testConfig()
	cfg.AlignTTLWithTimestamp = true
	cfg.DefaultTTLSec = 60

	sub := &scriptedSubmitter{}
	h, _ := newHandler(t, cfg, sub)

	now := time.UnixMilli(10_000_000)
	h.Now = func() time.Time { return now }

	evts := []model.DataPointEvent{
		{
			Metric: "cpu",
			Point:  model.DataPoint{TimestampMillis: now.UnixMilli() - 120_000, Value: 1.0, DataStoreType: "double"},
		},
	}

	cb, count := completionCounter()
	require.NoError(t, h.Handle(context.Background(), evts, cb))
	assert.Equal(t, 1, count())
	require.Len(t, sub.calls, 1)
	assert.Equal(t, 0, sub.calls[0].Size(), "the only event was already expired and must be dropped")
}

func TestHandleBatchTooLargeShrinksAndRetries(t *testing.T) {
	cfg := testConfig()
	sub := &scriptedSubmitter{results: []error{
		errTooLarge{},
	}}
	h, pub := newHandler(t, cfg, sub)
	reductions := pub.SubscribeBatchReductions()

	const n = 1000
	evts := make([]model.DataPointEvent, n)
	for i := 0; i < n; i++ {
		evts[i] = model.DataPointEvent{
			Metric: "cpu",
			Tags:   []rowkey.Tag{{Name: "host", Value: fmt.Sprintf("h%d", i)}},
			Point:  model.DataPoint{TimestampMillis: int64(i), Value: float64(i), DataStoreType: "double"},
		}
	}

	cb, count := completionCounter()
	require.NoError(t, h.Handle(context.Background(), evts, cb))

	assert.Equal(t, 1, count())
	assert.Equal(t, 3, len(sub.calls), "1 failed full-size attempt + 2 successful 500-event sub-batches")

	select {
	case evt := <-reductions:
		assert.Equal(t, 500, evt.EffectiveLimit)
	default:
		t.Fatal("expected a BatchReductionEvent(500)")
	}
}

func TestHandleTransportFailureRethrownWithoutCallback(t *testing.T) {
	cfg := testConfig()
	sub := &scriptedSubmitter{results: []error{gocql.ErrNoConnections}}
	h, _ := newHandler(t, cfg, sub)

	evts := []model.DataPointEvent{
		{Metric: "cpu", Point: model.DataPoint{TimestampMillis: 1, Value: 1.0, DataStoreType: "double"}},
	}

	cb, count := completionCounter()
	err := h.Handle(context.Background(), evts, cb)
	assert.Error(t, err)
	assert.Equal(t, 0, count(), "the outer backoff layer owns completion on transport failure")
}

func TestHandleTerminalFailureDumpsEvents(t *testing.T) {
	cfg := testConfig()
	cfg.TraceFailedEvents = true

	sub := &scriptedSubmitter{results: []error{assert.AnError}}
	h, _ := newHandler(t, cfg, sub)
	var log strings.Builder
	h.FailedLog = &log

	evts := make([]model.DataPointEvent, 5)
	for i := range evts {
		evts[i] = model.DataPointEvent{
			Metric: "cpu",
			Tags:   []rowkey.Tag{{Name: "host", Value: fmt.Sprintf("h%d", i)}},
			Point:  model.DataPoint{TimestampMillis: int64(i), Value: float64(i), DataStoreType: "double"},
			TTLSeconds: 30,
		}
	}

	cb, count := completionCounter()
	require.NoError(t, h.Handle(context.Background(), evts, cb))
	assert.Equal(t, 1, count())
	require.Equal(t, 1, len(sub.calls), "5 events never exceed minBatchLimit, so failure is terminal on the first attempt")

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		for _, field := range []string{"name", "timestamp", "value", "tags", "ttl"} {
			_, ok := rec[field]
			assert.True(t, ok, "missing field %q", field)
		}
	}
}

type errTooLarge struct{}

func (errTooLarge) Error() string { return "Batch too large for cluster" }
