package profiler

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingsRecord(t *testing.T) {
	tm := NewTimings(0)
	tm.Record("seeds", 3*time.Millisecond)
	tm.Record("seeds", 1*time.Millisecond)
	tm.Record("assemble", 5*time.Millisecond)

	s, ok := tm.Stats("seeds")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, 1*time.Millisecond, s.Min)
	assert.Equal(t, 3*time.Millisecond, s.Max)
	assert.Equal(t, 1*time.Millisecond, s.Last)
	assert.Equal(t, 2*time.Millisecond, s.Avg())

	_, ok = tm.Stats("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"assemble", "seeds"}, tm.Names())
}

func TestTimingsWindow(t *testing.T) {
	tm := NewTimings(2)
	for i := 1; i <= 4; i++ {
		tm.Record("stage", time.Duration(i)*time.Second)
	}

	s, ok := tm.Stats("stage")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Count, "only the window is retained")
	assert.Equal(t, 7*time.Second, s.Total)
	assert.Equal(t, 3*time.Second, s.Min, "evicted samples no longer count")
	assert.Equal(t, 4*time.Second, s.Max)
	assert.Equal(t, 4*time.Second, s.Last)
}

func TestTimingsWindowDropsOldMax(t *testing.T) {
	tm := NewTimings(2)
	tm.Record("stage", 9*time.Second)
	tm.Record("stage", 2*time.Second)
	tm.Record("stage", 1*time.Second)

	s, ok := tm.Stats("stage")
	require.True(t, ok)
	assert.Equal(t, 1*time.Second, s.Min)
	assert.Equal(t, 2*time.Second, s.Max)
	assert.Equal(t, 3*time.Second, s.Total)
	assert.Equal(t, 1500*time.Millisecond, s.Avg())
}

func TestTimingsStart(t *testing.T) {
	tm := NewTimings(0)
	done := tm.Start("stage")
	done()

	s, ok := tm.Stats("stage")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Count)
	assert.GreaterOrEqual(t, s.Total, time.Duration(0))
}

func TestTimingsConcurrent(t *testing.T) {
	tm := NewTimings(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tm.Record("stage", time.Microsecond)
			}
		}()
	}
	wg.Wait()

	s, _ := tm.Stats("stage")
	assert.Equal(t, int64(400), s.Count)
}

func TestTimingsReport(t *testing.T) {
	tm := NewTimings(0)
	tm.Record("normalize", 2*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, tm.Report(&buf))
	assert.Contains(t, buf.String(), "normalize: avg=2ms")
	assert.Contains(t, buf.String(), "count=1")
}
