// Package detrend provides the simplest possible detrender: it divides the
// data into chunks and subtracts the weighted mean of each frequency row in
// every chunk.
package detrend

import (
	"errors"
	"fmt"

	"github.com/pipelined/rfpipe"
)

// ErrConfig is returned when detrender parameters are not valid.
var ErrConfig = errors.New("invalid detrender")

// Transform is a simple detrender. Rows with zero total weight are left
// as is.
type Transform struct {
	params rfpipe.TransformParams
}

// New creates a detrender with chunks of ntChunk samples.
func New(ntChunk int) (*Transform, error) {
	if ntChunk <= 0 {
		return nil, fmt.Errorf("%w: nt_chunk %d", ErrConfig, ntChunk)
	}
	return &Transform{
		params: rfpipe.TransformParams{NtChunk: ntChunk},
	}, nil
}

// Name returns the name of detrender used in logs.
func (t *Transform) Name() string {
	return fmt.Sprintf("simple_detrender(nt_chunk=%d)", t.params.NtChunk)
}

// SetStream implements rfpipe.Transform.
func (t *Transform) SetStream(p rfpipe.StreamParams) error {
	t.params.NFreq = p.NFreq
	return nil
}

// Params implements rfpipe.Transform.
func (t *Transform) Params() rfpipe.TransformParams {
	return t.params
}

// StartSubstream implements rfpipe.Transform.
func (t *Transform) StartSubstream(float64) error {
	return nil
}

// ProcessChunk implements rfpipe.Transform.
func (t *Transform) ProcessChunk(t0 float64, chunk, prepad rfpipe.Window) error {
	for f := 0; f < chunk.NFreq; f++ {
		in, wt := chunk.Row(f)
		in, wt = in[:t.params.NtChunk], wt[:t.params.NtChunk]
		var sum, wsum float64
		for i := range in {
			sum += float64(wt[i]) * float64(in[i])
			wsum += float64(wt[i])
		}
		if wsum <= 0 {
			continue
		}
		mean := float32(sum / wsum)
		for i := range in {
			in[i] -= mean
		}
	}
	return nil
}

// EndSubstream implements rfpipe.Transform.
func (t *Transform) EndSubstream() error {
	return nil
}
