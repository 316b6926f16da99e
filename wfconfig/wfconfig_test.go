package wfconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaultsOverlaysAllThreeVariables(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"WF_LOG_DIR":                  "/var/log/parastream",
		"WF_DEFAULT_WM_AMOUNT":        "64",
		"WF_DEFAULT_WM_INTERVAL_USEC": "1000",
	})}

	var d Defaults
	require.NoError(t, l.LoadDefaults(&d))
	assert.Equal(t, "/var/log/parastream", d.LogDir)
	assert.EqualValues(t, 64, d.DefaultWMAmount)
	assert.EqualValues(t, 1000, d.DefaultWMIntervalUsec)
}

func TestLoadDefaultsPreservesUnsetFields(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"WF_LOG_DIR": "/tmp/logs",
	})}

	d := Defaults{DefaultWMAmount: 10, DefaultWMIntervalUsec: 500}
	require.NoError(t, l.LoadDefaults(&d))
	assert.Equal(t, "/tmp/logs", d.LogDir)
	assert.EqualValues(t, 10, d.DefaultWMAmount)
	assert.EqualValues(t, 500, d.DefaultWMIntervalUsec)
}

func TestLoadDefaultsRejectsInvalidAmount(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"WF_DEFAULT_WM_AMOUNT": "not_a_number",
	})}

	var d Defaults
	assert.Error(t, l.LoadDefaults(&d))
}

type operatorOverlay struct {
	Parallelism     int
	OutputBatchSize int
	Name            string
}

func TestLoadOperatorScopesKeysUnderOperatorName(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"WF_WORD_COUNT_PARALLELISM":       "4",
		"WF_WORD_COUNT_OUTPUT_BATCH_SIZE": "128",
		"WF_OTHER_OP_PARALLELISM":         "99",
	})}

	var cfg operatorOverlay
	require.NoError(t, l.LoadOperator("word-count", &cfg))
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 128, cfg.OutputBatchSize)
	assert.Empty(t, cfg.Name)
}

func TestLoadOperatorCustomPrefix(t *testing.T) {
	l := Loader{
		Prefix: "MYAPP",
		lookup: envMap(map[string]string{
			"MYAPP_SINK_PARALLELISM": "2",
		}),
	}

	var cfg operatorOverlay
	require.NoError(t, l.LoadOperator("sink", &cfg))
	assert.Equal(t, 2, cfg.Parallelism)
}

func TestLoadOperatorRejectsNonPointer(t *testing.T) {
	l := Loader{lookup: envMap(nil)}
	assert.Error(t, l.LoadOperator("op", operatorOverlay{}))
}

func TestLoadOperatorInvalidIntProducesError(t *testing.T) {
	l := Loader{lookup: envMap(map[string]string{
		"WF_OP_PARALLELISM": "nope",
	})}
	var cfg operatorOverlay
	assert.Error(t, l.LoadOperator("op", &cfg))
}

func TestLoadOperatorNestedStruct(t *testing.T) {
	type pool struct {
		Workers int
	}
	type nested struct {
		Pool pool
	}

	l := Loader{lookup: envMap(map[string]string{
		"WF_ENGINE_POOL_WORKERS": "8",
	})}
	var cfg nested
	require.NoError(t, l.LoadOperator("engine", &cfg))
	assert.Equal(t, 8, cfg.Pool.Workers)
}

func TestNormalizeSegmentHyphensAndSpaces(t *testing.T) {
	assert.Equal(t, "WORD_COUNT", normalizeSegment("word-count"))
	assert.Equal(t, "MY_OP", normalizeSegment("My Op"))
	assert.Equal(t, "ALREADY_UPPER", normalizeSegment("ALREADY_UPPER"))
}

func TestToUpperSnakeMatchesKnownCases(t *testing.T) {
	assert.Equal(t, "BUFFER_SIZE", toUpperSnake("BufferSize"))
	assert.Equal(t, "HTTP_CLIENT", toUpperSnake("HTTPClient"))
	assert.Equal(t, "OUTPUT_BATCH_SIZE", toUpperSnake("OutputBatchSize"))
}

func TestPackageLevelLoadDefaultsUsesRealEnv(t *testing.T) {
	t.Setenv("WF_LOG_DIR", "/env/set/path")

	var d Defaults
	require.NoError(t, LoadDefaults(&d))
	assert.Equal(t, "/env/set/path", d.LogDir)
}

func TestPackageLevelLoadOperatorUsesRealEnv(t *testing.T) {
	t.Setenv("WF_SOURCE_PARALLELISM", "16")

	var cfg operatorOverlay
	require.NoError(t, LoadOperator("source", &cfg))
	assert.Equal(t, 16, cfg.Parallelism)
}
