package op_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parastream/parastream/op"
)

func TestNewAppliesParallelismDefault(t *testing.T) {
	cfg := op.New(op.WithName("m1"))
	assert.Equal(t, "m1", cfg.Name)
	assert.Equal(t, 1, cfg.Parallelism)
}

func TestValidateRejectsZeroParallelism(t *testing.T) {
	cfg := op.New(op.WithParallelism(0))
	assert.Error(t, cfg.Validate(false))
}

func TestValidateRequiresKeyByAtParallelismAboveOneWhenRequired(t *testing.T) {
	cfg := op.New(op.WithParallelism(4))
	assert.Error(t, cfg.Validate(true))
	assert.NoError(t, cfg.Validate(false))

	cfg = op.New(op.WithParallelism(4), op.WithKeyBy(func(int) uint64 { return 0 }))
	assert.NoError(t, cfg.Validate(true))
}

func TestValidateRejectsLatenessOnCBWindows(t *testing.T) {
	cfg := op.New(op.WithCBWindows(4, 2), op.WithLateness(10))
	assert.Error(t, cfg.Validate(false))
}

func TestValidateRejectsZeroWinLen(t *testing.T) {
	cfg := op.New(op.WithCBWindows(0, 2))
	assert.Error(t, cfg.Validate(false))
}

func TestWindowSpecFoldsInLateness(t *testing.T) {
	cfg := op.New(op.WithTBWindows(1000, 1000), op.WithLateness(500))
	spec := cfg.WindowSpec()
	assert.EqualValues(t, 500, spec.Lateness)
	assert.NoError(t, cfg.Validate(false))
}
