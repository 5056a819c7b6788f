package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Names(t *testing.T) {
	r := BuildDefaultRegistry()
	assert.Equal(t, []string{RSIThresholdName, SMACrossoverName}, r.Names())
}

func TestRegistry_BuildMergesDefaults(t *testing.T) {
	r := BuildDefaultRegistry()

	s, err := r.Build(SMACrossoverName, Params{"fast_period": 10})
	require.NoError(t, err)

	p := s.Parameters()
	assert.Equal(t, 10.0, p["fast_period"])
	assert.Equal(t, 20.0, p["slow_period"])
	assert.Equal(t, SMACrossoverName, s.Name())
}

func TestRegistry_BuildUnknown(t *testing.T) {
	_, err := BuildDefaultRegistry().Build("martingale", nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRegistry_BuildInvalidParamsReturnsNilStrategy(t *testing.T) {
	s, err := BuildDefaultRegistry().Build(SMACrossoverName, Params{"fast_period": 30})
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := BuildDefaultRegistry()
	err := r.Register(Entry{Name: SMACrossoverName, Factory: func(Params) (Strategy, error) { return nil, nil }})
	assert.Error(t, err)
}

func TestRegistry_InstancesAreIndependent(t *testing.T) {
	r := BuildDefaultRegistry()
	a, err := r.Build(SMACrossoverName, Params{"fast_period": 2, "slow_period": 4})
	require.NoError(t, err)
	b, err := r.Build(SMACrossoverName, Params{"fast_period": 2, "slow_period": 4})
	require.NoError(t, err)

	runAll(a, seriesOf(t, 10, 10, 10, 12, 14))
	assert.Len(t, a.History(), 5)
	assert.Empty(t, b.History())
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams("fast_period=3, slow_period=12")
	require.NoError(t, err)
	assert.Equal(t, Params{"fast_period": 3, "slow_period": 12}, p)
	assert.Equal(t, "fast_period=3,slow_period=12", p.String())

	_, err = ParseParams("fast_period")
	assert.Error(t, err)
}
