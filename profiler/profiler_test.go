package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDurationWindow(t *testing.T) {
	p := New(2)
	p.RecordDuration("encode", 10*time.Millisecond)
	p.RecordDuration("encode", 20*time.Millisecond)
	p.RecordDuration("encode", 40*time.Millisecond)

	ops := p.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, OperationStats{
		Name:  "encode",
		Count: 3,
		Avg:   30 * time.Millisecond,
		Min:   10 * time.Millisecond,
		Max:   40 * time.Millisecond,
	}, ops[0])
}

func TestRecordMetric(t *testing.T) {
	p := New(0)
	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			p.RecordMetric("positives", v)
		}(float64(i))
	}
	wg.Wait()

	metrics := p.Metrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(4), metrics[0].Count)
	assert.InDelta(t, 2.5, metrics[0].Avg, 1e-9)
	assert.Equal(t, 1.0, metrics[0].Min)
	assert.Equal(t, 4.0, metrics[0].Max)
}

func TestReport(t *testing.T) {
	p := New(10)
	done := p.StartOperation("decode")
	done()
	p.RecordMetric("detections", 3)

	logger, hook := test.NewNullLogger()
	p.Report(logger)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "decode", entries[1].Data["operation"])
	assert.Equal(t, "detections", entries[2].Data["metric"])
}
