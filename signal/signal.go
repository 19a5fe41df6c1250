// Package signal converts between interleaved integer PCM data and the
// row-major float32 planes used by rfpipe: every channel is one row.
package signal

import (
	"math"
	"time"
)

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth24 is 24 bit depth.
	BitDepth24 = BitDepth(24)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// devider is used when int to float conversion is done.
func (bitDepth BitDepth) devider() float64 {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth24:
		return 1<<23 - 1
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() float64 {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8 - 1
	case BitDepth16:
		return math.MaxInt16 - 1
	case BitDepth24:
		return 1<<23 - 2
	case BitDepth32:
		return math.MaxInt32 - 1
	default:
		return 1
	}
}

// Supported reports if the bit depth can be converted.
func (bitDepth BitDepth) Supported() bool {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return true
	}
	return false
}

// DurationOf returns time duration of samples for this sample rate.
func DurationOf(sampleRate int, samples int64) time.Duration {
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// InterInt is an interleaved int signal.
type InterInt struct {
	Data        []int
	NumChannels int
	BitDepth
}

// Size returns number of samples per channel. An incomplete trailing frame
// counts as a sample.
func (ints InterInt) Size() int {
	if ints.NumChannels == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(ints.Data)) / float64(ints.NumChannels)))
}

// CopyToRows converts the signal into rows: channel c, sample i is written
// to dst[c*stride+i]. Missing samples of an incomplete trailing frame are
// written as zeros. It returns number of samples written per row.
func (ints InterInt) CopyToRows(dst []float32, stride int) int {
	if ints.Data == nil || ints.NumChannels == 0 {
		return 0
	}
	size := ints.Size()
	devider := ints.BitDepth.devider()
	for c := 0; c < ints.NumChannels; c++ {
		row := dst[c*stride : c*stride+size]
		pos := 0
		for j := c; j < len(ints.Data); j = j + ints.NumChannels {
			row[pos] = float32(float64(ints.Data[j]) / devider)
			pos++
		}
		for ; pos < size; pos++ {
			row[pos] = 0
		}
	}
	return size
}

// InterIntFromRows converts numChannels rows of size samples into an
// interleaved int signal. Values are clipped to [-1, 1].
func InterIntFromRows(src []float32, stride, numChannels, size int, bitDepth BitDepth, dst []int) []int {
	n := numChannels * size
	if cap(dst) < n {
		dst = make([]int, n)
	}
	dst = dst[:n]
	multiplier := bitDepth.multiplier()
	for c := 0; c < numChannels; c++ {
		row := src[c*stride : c*stride+size]
		for i, v := range row {
			f := float64(v)
			switch {
			case f > 1:
				f = 1
			case f < -1:
				f = -1
			}
			dst[i*numChannels+c] = int(f * multiplier)
		}
	}
	return dst
}
