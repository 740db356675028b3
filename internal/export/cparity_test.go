package export

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"iot-anomaly/internal/forest"
	"iot-anomaly/internal/synth"
)

// driverSource mirrors the firmware wrapper: it claims ANOMALY_DETECTOR_H and
// then includes model.h. It prints the prediction for a wrong feature count,
// then one prediction per stdin row.
const driverSource = `#ifndef ANOMALY_DETECTOR_H
#define ANOMALY_DETECTOR_H
#include <stdio.h>
#include "model.h"
#endif

int main(void) {
    float row[ANOMALY_DETECTOR_N_FEATURES] = {0};
    printf("%d\n", (int)anomaly_detector_predict(row, ANOMALY_DETECTOR_N_FEATURES - 1));
    for (;;) {
        for (int i = 0; i < ANOMALY_DETECTOR_N_FEATURES; i++) {
            if (scanf("%f", &row[i]) != 1) {
                return 0;
            }
        }
        printf("%d\n", (int)anomaly_detector_predict(row, ANOMALY_DETECTOR_N_FEATURES));
    }
}
`

func compileDriver(t *testing.T, f *forest.Forest) string {
	t.Helper()
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler on PATH")
	}

	dir := t.TempDir()
	require.NoError(t, Save(filepath.Join(dir, "model.h"), f, DefaultOptions()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "driver.c"), []byte(driverSource), 0644))

	bin := filepath.Join(dir, "driver")
	cmd := exec.Command(cc, "-std=c99", "-Wall", "-o", bin, "driver.c")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "cc: %s", out)
	return bin
}

func TestHeader_MatchesForestInC(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles generated C")
	}

	g, err := synth.NewGenerator(42, synth.DefaultConfig())
	require.NoError(t, err)
	ds, err := g.Generate()
	require.NoError(t, err)

	x := ds.Matrix()
	f := forest.New(forest.DefaultParams())
	require.NoError(t, f.Fit(x, ds.Labels()))

	bin := compileDriver(t, f)

	n, cols := x.Dims()
	var in strings.Builder
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			if j > 0 {
				in.WriteByte(' ')
			}
			in.WriteString(strconv.FormatFloat(x.At(i, j), 'g', -1, 32))
		}
		in.WriteByte('\n')
	}

	cmd := exec.Command(bin)
	cmd.Stdin = strings.NewReader(in.String())
	out, err := cmd.Output()
	require.NoError(t, err)

	sc := bufio.NewScanner(bytes.NewReader(out))
	require.True(t, sc.Scan())
	assert.Equal(t, "-1", sc.Text(), "wrong feature count must be rejected")

	mismatches := 0
	for i := 0; i < n; i++ {
		require.True(t, sc.Scan(), "missing C prediction for row %d", i)
		got, err := strconv.Atoi(sc.Text())
		require.NoError(t, err)

		want, err := f.Predict(mat.Row(nil, i, x))
		require.NoError(t, err)
		if got != want {
			mismatches++
			t.Logf("row %d: C=%d Go=%d", i, got, want)
		}
	}
	assert.False(t, sc.Scan(), "unexpected trailing output")
	assert.Zero(t, mismatches)
}
