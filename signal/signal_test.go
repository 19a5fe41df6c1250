package signal_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/rfpipe/signal"
)

func TestCopyToRows(t *testing.T) {
	tests := []struct {
		ints        []int
		numChannels int
		bitDepth    signal.BitDepth
		stride      int
		expected    []float32
		size        int
	}{
		{
			ints:        []int{1, 2, 1, 2, 1, 2, 1, 2},
			numChannels: 2,
			stride:      4,
			size:        4,
			expected:    []float32{1, 1, 1, 1, 2, 2, 2, 2},
		},
		{
			ints:        []int{1, 2, 1, 2, 1},
			numChannels: 2,
			stride:      4,
			size:        3,
			expected:    []float32{1, 1, 1, 0, 2, 2, 0, 0},
		},
		{
			ints:        []int{math.MaxInt16, math.MaxInt16 * 2},
			numChannels: 2,
			stride:      2,
			size:        1,
			expected:    []float32{1, 0, 2, 0},
			bitDepth:    signal.BitDepth16,
		},
		{
			ints:     nil,
			stride:   1,
			expected: []float32{0},
		},
		{
			ints:     []int{1, 2, 3},
			stride:   1,
			expected: []float32{0},
		},
	}

	for _, test := range tests {
		ints := signal.InterInt{
			Data:        test.ints,
			NumChannels: test.numChannels,
			BitDepth:    test.bitDepth,
		}
		dst := make([]float32, len(test.expected))
		n := ints.CopyToRows(dst, test.stride)
		assert.Equal(t, test.size, n)
		assert.Equal(t, test.expected, dst)
	}
}

func TestInterIntFromRows(t *testing.T) {
	rows := []float32{
		0.5, -0.5, 2, 9,
		1, -1, -3, 9,
	}
	ints := signal.InterIntFromRows(rows, 4, 2, 3, signal.BitDepth8, nil)
	assert.Equal(t, []int{63, 126, -63, -126, 126, -126}, ints)

	reused := make([]int, 0, 16)
	ints = signal.InterIntFromRows(rows, 4, 1, 2, signal.BitDepth16, reused)
	assert.Equal(t, []int{16383, -16383}, ints)
}

func TestRoundTrip(t *testing.T) {
	rows := []float32{0.25, -0.75, 0.5, 0, 0.125, -0.125}
	ints := signal.InterIntFromRows(rows, 3, 2, 3, signal.BitDepth24, nil)
	back := make([]float32, 6)
	n := signal.InterInt{Data: ints, NumChannels: 2, BitDepth: signal.BitDepth24}.CopyToRows(back, 3)
	assert.Equal(t, 3, n)
	for i := range rows {
		assert.InDelta(t, rows[i], back[i], 1e-5)
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, signal.BitDepth16.Supported())
	assert.False(t, signal.BitDepth(12).Supported())
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(44100, 44100))
	assert.Equal(t, 500*time.Millisecond, signal.DurationOf(8000, 4000))
}
