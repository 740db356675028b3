package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-anomaly/internal/features"
)

func generate(t *testing.T, seed uint64) *Dataset {
	t.Helper()
	g, err := NewGenerator(seed, DefaultConfig())
	require.NoError(t, err)
	ds, err := g.Generate()
	require.NoError(t, err)
	return ds
}

func TestGenerate_Balanced(t *testing.T) {
	ds := generate(t, 1)

	assert.Equal(t, 600, ds.Len())
	counts := ds.ClassCounts()
	assert.Equal(t, 300, counts[Normal])
	assert.Equal(t, 300, counts[Fault])
	assert.Equal(t, DefaultConfig().Size(), ds.Len())
}

func TestGenerate_Order(t *testing.T) {
	ds := generate(t, 2)

	for i, ex := range ds.Examples {
		if i < 300 {
			assert.Equal(t, Normal, ex.Label, "example %d", i)
		} else {
			assert.Equal(t, Fault, ex.Label, "example %d", i)
		}
	}
}

func TestGenerate_Reproducible(t *testing.T) {
	first := generate(t, 42)
	second := generate(t, 42)

	require.NotEmpty(t, first.Examples)
	assert.Equal(t, first.Examples, second.Examples)

	other := generate(t, 43)
	assert.NotEqual(t, first.Examples[0].Features, other.Examples[0].Features)
}

func TestGenerate_FirstExampleFixture(t *testing.T) {
	ds := generate(t, 42)

	// Quiet capture drawn from PCG(42, 42^0x9e3779b97f4a7c15).
	first := ds.Examples[0]
	assert.Equal(t, Normal, first.Label)
	assert.InDelta(t, 2.2599661883767035, first.Features[features.LowEnergy], 1e-9)
	assert.InDelta(t, 4.0139640850090155, first.Features[features.HighEnergy], 1e-9)
	assert.Equal(t, 1484.375, first.Features[features.DominantFreq])
}

func TestGenerator_FirstNoiseSamples(t *testing.T) {
	g, err := NewGenerator(42, DefaultConfig())
	require.NoError(t, err)

	noise := g.QuietWaveform()
	assert.InDelta(t, 0.005109417129298581, noise[0], 1e-15)
	assert.InDelta(t, -0.0008696010062852367, noise[1], 1e-15)
	assert.InDelta(t, 0.0014076924985401463, noise[2], 1e-15)
}

func TestGenerate_FeaturesInRange(t *testing.T) {
	ds := generate(t, 3)

	for i, ex := range ds.Examples {
		v := ex.Features
		require.True(t, v.IsFinite(), "example %d: %v", i, v)
		assert.GreaterOrEqual(t, v[features.LowEnergy], 0.0)
		assert.GreaterOrEqual(t, v[features.HighEnergy], 0.0)
		assert.GreaterOrEqual(t, v[features.DominantFreq], 0.0)
		assert.LessOrEqual(t, v[features.DominantFreq], features.SampleRate/2.0)
	}
}

func TestGenerate_FaultsAreLowFrequency(t *testing.T) {
	ds := generate(t, 4)

	for _, ex := range ds.Examples[300:] {
		// Tones sit in [50, 600) Hz; allow one bin of leakage either side.
		assert.Less(t, ex.Features[features.DominantFreq], 600.0+15.625)
	}
	for i := 1; i < 300; i += 2 {
		dom := ds.Examples[i].Features[features.DominantFreq]
		assert.GreaterOrEqual(t, dom, 2000.0-15.625, "mechanical example %d", i)
		assert.Less(t, dom, 6000.0+15.625, "mechanical example %d", i)
	}
}

func TestDataset_MatrixAndLabels(t *testing.T) {
	ds := NewDataset(2)
	ds.Append(features.Vector{1, 2, 3}, Normal)
	ds.Append(features.Vector{4, 5, 6}, Fault)

	m := ds.Matrix()
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, features.Count, c)
	assert.Equal(t, 5.0, m.At(1, 1))
	assert.Equal(t, []int{0, 1}, ds.Labels())
}

func TestDataset_Summary(t *testing.T) {
	ds := NewDataset(4)
	ds.Append(features.Vector{1, 0, 100}, Normal)
	ds.Append(features.Vector{3, 0, 300}, Normal)
	ds.Append(features.Vector{5, 1, 50}, Fault)

	sum := ds.Summary()
	require.Len(t, sum, 2)
	assert.Equal(t, Normal, sum[0].Label)
	assert.Equal(t, 2, sum[0].Count)
	assert.InDelta(t, 2.0, sum[0].Mean[features.LowEnergy], 1e-12)
	assert.InDelta(t, 200.0, sum[0].Mean[features.DominantFreq], 1e-12)
	assert.Equal(t, Fault, sum[1].Label)
	assert.Equal(t, 1, sum[1].Count)
}

func TestTimeAxis(t *testing.T) {
	axis := TimeAxis(1024, 16000)
	require.Len(t, axis, 1024)
	assert.Equal(t, 0.0, axis[0])
	assert.Equal(t, 1024.0/16000.0, axis[1023])
	assert.InDelta(t, 0.064/1023, axis[1], 1e-15)
}

func TestNewGenerator_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FaultFreqMax = cfg.FaultFreqMin
	_, err := NewGenerator(1, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.FrameSize = 1
	_, err = NewGenerator(1, cfg)
	assert.Error(t, err)
}

func TestLabel_String(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "fault", Fault.String())
	assert.Equal(t, "unknown", Label(7).String())
}

func TestImbalancedConfig(t *testing.T) {
	cfg := ImbalancedConfig()
	assert.Equal(t, 300, cfg.NormalIterations)
	assert.Equal(t, 900, cfg.Size())

	g, err := NewGenerator(7, cfg)
	require.NoError(t, err)
	ds, err := g.Generate()
	require.NoError(t, err)

	assert.Equal(t, 900, ds.Len())
	counts := ds.ClassCounts()
	assert.Equal(t, 600, counts[Normal])
	assert.Equal(t, 300, counts[Fault])

	// Same seed and the same leading rounds: the balanced set is a prefix of
	// the normal block.
	balanced := generate(t, 7)
	assert.Equal(t, balanced.Examples[0], ds.Examples[0])
	assert.Equal(t, balanced.Examples[299], ds.Examples[299])
}
