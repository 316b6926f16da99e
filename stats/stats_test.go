package stats_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parastream/parastream/stats"
)

func TestFinalizeComputesServiceTimePercentiles(t *testing.T) {
	c := &stats.ReplicaCounters{InputsReceived: 3, OutputsSent: 3}
	c.Observe(10 * time.Microsecond)
	c.Observe(20 * time.Microsecond)
	c.Observe(30 * time.Microsecond)

	rec := stats.Finalize(stats.Record{OperatorName: "map1", OperatorType: "map"}, []*stats.ReplicaCounters{c})

	require.Len(t, rec.Replicas, 1)
	assert.Equal(t, int64(3), rec.Replicas[0].InputsReceived)
	assert.InDelta(t, 20, rec.Replicas[0].ServiceTimeP50, 0.001)
}

func TestLogDirFallsBackWhenEnvUnset(t *testing.T) {
	assert.Equal(t, "./log", stats.LogDir(""))
	assert.Equal(t, "/var/log/parastream", stats.LogDir("/var/log/parastream"))
}

func TestWriteToProducesGoldenJSONLine(t *testing.T) {
	rec := stats.Record{
		OperatorName:    "w1",
		OperatorType:    "windowed",
		IsTerminated:    true,
		IsWindowed:      true,
		WindowType:      "CB",
		WindowLength:    4,
		WindowSlide:     2,
		Parallelism:     2,
		OutputBatchSize: 0,
		Replicas: []stats.ReplicaRecord{
			{InputsReceived: 12, OutputsSent: 5},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, stats.WriteTo(&buf, rec))

	g := goldie.New(t)
	g.Assert(t, "operator_record", buf.Bytes())
}
