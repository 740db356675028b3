package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"iot-anomaly/internal/forest"
)

func fittedForest(t *testing.T) *forest.Forest {
	t.Helper()
	x := mat.NewDense(6, 3, []float64{
		1, 0, 100,
		1.5, 0.2, 120,
		2, 0.1, 90,
		6, 3, 300,
		6.5, 3.5, 250,
		7, 2.9, 310,
	})
	y := []int{0, 0, 0, 1, 1, 1}

	p := forest.DefaultParams()
	p.NEstimators = 3
	f := forest.New(p)
	require.NoError(t, f.Fit(x, y))
	return f
}

func TestWrite_Header(t *testing.T) {
	f := fittedForest(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f, DefaultOptions()))
	out := buf.String()

	assert.Contains(t, out, "#ifndef ANOMALY_DETECTOR_MODEL_H\n#define ANOMALY_DETECTOR_MODEL_H\n")
	assert.Contains(t, out, "#define ANOMALY_DETECTOR_N_FEATURES 3")
	assert.Contains(t, out, "#define ANOMALY_DETECTOR_N_CLASSES 2")
	assert.Contains(t, out, "#define ANOMALY_DETECTOR_N_TREES 3")
	assert.Contains(t, out, "static inline int32_t anomaly_detector_predict(const float *features, int32_t n_features)")
	assert.Contains(t, out, "anomaly_detector_predict_proba(")
	for i := 0; i < 3; i++ {
		assert.Contains(t, out, "anomaly_detector_tree_"+string(rune('0'+i))+"(features, out);")
	}
	assert.Contains(t, out, "out[i] /= 3.0f;")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "#endif // ANOMALY_DETECTOR_MODEL_H"))
	assert.Equal(t, strings.Count(out, "{"), strings.Count(out, "}"), "braces must balance")
}

func TestGuard(t *testing.T) {
	assert.Equal(t, "ANOMALY_DETECTOR_MODEL_H", Guard("anomaly_detector"))
	assert.Equal(t, "FAN_MONITOR_MODEL_H", Guard("fan_monitor"))

	// AnomalyDetector.h on the device defines this before including model.h.
	assert.NotEqual(t, "ANOMALY_DETECTOR_H", Guard(DefaultOptions().Name))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, fittedForest(t), DefaultOptions()))
	assert.NotContains(t, buf.String(), "ANOMALY_DETECTOR_H\n")
}

func TestWrite_CustomName(t *testing.T) {
	f := fittedForest(t)

	opts := DefaultOptions()
	opts.Name = "fan_monitor"
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f, opts))
	assert.Contains(t, buf.String(), "fan_monitor_predict(")
	assert.NotContains(t, buf.String(), "anomaly_detector")
	assert.Contains(t, buf.String(), "#ifndef FAN_MONITOR_MODEL_H")
	assert.Contains(t, buf.String(), "#define FAN_MONITOR_N_FEATURES 3")
}

func TestWrite_Unsupported(t *testing.T) {
	f := fittedForest(t)

	cases := []Options{
		{Method: "loadable", DType: DTypeFloat, Name: "m"},
		{Method: MethodInline, DType: "int16_t", Name: "m"},
		{Method: MethodInline, DType: DTypeFloat, Name: "9lives"},
		{Method: MethodInline, DType: DTypeFloat, Name: "has-dash"},
	}
	for _, opts := range cases {
		err := Write(&bytes.Buffer{}, f, opts)
		assert.ErrorIs(t, err, ErrUnsupported, "%+v", opts)
	}
}

func TestWrite_NotFitted(t *testing.T) {
	err := Write(&bytes.Buffer{}, forest.New(forest.DefaultParams()), DefaultOptions())
	assert.ErrorIs(t, err, forest.ErrNotFitted)
}

func TestSave(t *testing.T) {
	f := fittedForest(t)
	path := filepath.Join(t.TempDir(), "model.h")

	require.NoError(t, Save(path, f, DefaultOptions()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "anomaly_detector_predict")
}

func TestFloatLiteral(t *testing.T) {
	assert.Equal(t, "3.0f", floatLiteral(3))
	assert.Equal(t, "612.5f", floatLiteral(612.5))
	assert.Equal(t, "0.1f", floatLiteral(0.1))
	assert.Equal(t, "1e+07f", floatLiteral(1e7))
	assert.Equal(t, "-2.25f", floatLiteral(-2.25))
}
