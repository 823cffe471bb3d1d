package progress

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(writes *[]float64) WriteFunc {
	return func(pct float64) {
		*writes = append(*writes, pct)
	}
}

func TestReportInitialResumedDownload(t *testing.T) {
	var writes []float64

	// 300 of 1000 bytes already on disk.
	r := NewReporter("test", 1000, 300, time.Hour, collect(&writes), newTestLogger())
	r.ReportInitial()

	require.Len(t, writes, 1)
	assert.Equal(t, 30.0, writes[0])
}

func TestReportInitialRoundsToTwoDecimals(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 3, 1, time.Hour, collect(&writes), newTestLogger())
	r.ReportInitial()

	require.Len(t, writes, 1)
	assert.Equal(t, 33.33, writes[0])
}

func TestThrottleSuppressesIntermediateWrites(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 1000, 0, time.Hour, collect(&writes), newTestLogger())
	r.ReportInitial()

	// Well inside the throttle window and not final: suppressed.
	r.Add(100)
	r.Add(100)
	r.Add(100)

	require.Len(t, writes, 1)
	assert.Equal(t, 0.0, writes[0])
}

func TestFinalTickBypassesThrottle(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 1000, 0, time.Hour, collect(&writes), newTestLogger())
	r.ReportInitial()
	r.Add(500)
	r.Add(500)

	require.Len(t, writes, 2)
	assert.Equal(t, 100.0, writes[1])
}

func TestOvershootClampsTo100(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 1000, 0, time.Hour, collect(&writes), newTestLogger())
	r.Add(1500)

	require.Len(t, writes, 1)
	assert.Equal(t, 100.0, writes[0])

	// Further overshoot stays clamped.
	r.Add(500)
	for _, pct := range writes {
		assert.LessOrEqual(t, pct, 100.0)
	}
}

func TestWritesAreMonotonic(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 1000, 0, time.Millisecond, collect(&writes), newTestLogger())
	r.ReportInitial()

	for i := 0; i < 10; i++ {
		r.Add(100)
		time.Sleep(2 * time.Millisecond)
	}

	for i := 1; i < len(writes); i++ {
		assert.GreaterOrEqual(t, writes[i], writes[i-1])
	}
	assert.Equal(t, 100.0, writes[len(writes)-1])
}

func TestTransferredExcludesBaseline(t *testing.T) {
	r := NewReporter("test", 1000, 400, time.Hour, func(float64) {}, newTestLogger())
	r.Add(100)
	r.Add(50)

	assert.Equal(t, int64(150), r.Transferred())
}

func TestUnknownTotalReportsZero(t *testing.T) {
	var writes []float64

	r := NewReporter("test", 0, 0, time.Hour, collect(&writes), newTestLogger())
	r.ReportInitial()

	require.Len(t, writes, 1)
	assert.Equal(t, 0.0, writes[0])
}
