// Package noise provides a stream of Gaussian noise. It's useful to test
// and benchmark transforms without input data.
package noise

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/pipelined/rfpipe"
)

// ErrConfig is returned when noise stream parameters are not valid.
var ErrConfig = errors.New("invalid noise stream")

// Stream writes NtTot samples of Gaussian noise with zero mean and Rms
// standard deviation. Weights are ones. Samples are written in writes of
// NtChunk samples, the last one can be smaller.
type Stream struct {
	params rfpipe.StreamParams
	ntTot  int64
	rms    float64
	t0     float64
	seed   int64
}

// Option configures noise stream.
type Option func(*Stream)

// WithSeed sets seed of the random source. The same seed gives the same
// samples.
func WithSeed(seed int64) Option {
	return func(s *Stream) {
		s.seed = seed
	}
}

// WithStartTime sets time of the first sample in seconds.
func WithStartTime(t0 float64) Option {
	return func(s *Stream) {
		s.t0 = t0
	}
}

// New creates a noise stream.
func New(nfreq, ntChunk int, ntTot int64, freqLoMHz, freqHiMHz, dtSample, rms float64, options ...Option) (*Stream, error) {
	switch {
	case nfreq <= 0 || ntChunk <= 0:
		return nil, fmt.Errorf("%w: nfreq %d, nt_chunk %d", ErrConfig, nfreq, ntChunk)
	case ntTot < 0:
		return nil, fmt.Errorf("%w: nt_tot %d", ErrConfig, ntTot)
	case rms < 0:
		return nil, fmt.Errorf("%w: rms %v", ErrConfig, rms)
	case dtSample <= 0:
		return nil, fmt.Errorf("%w: dt_sample %v", ErrConfig, dtSample)
	case freqLoMHz <= 0 || freqLoMHz >= freqHiMHz:
		return nil, fmt.Errorf("%w: frequency range [%v, %v] MHz", ErrConfig, freqLoMHz, freqHiMHz)
	}
	s := &Stream{
		params: rfpipe.StreamParams{
			NFreq:      nfreq,
			FreqLoMHz:  freqLoMHz,
			FreqHiMHz:  freqHiMHz,
			DtSample:   dtSample,
			NtMaxWrite: ntChunk,
		},
		ntTot: ntTot,
		rms:   rms,
		seed:  1,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Params implements rfpipe.Stream.
func (s *Stream) Params() rfpipe.StreamParams {
	return s.params
}

// Body implements rfpipe.Stream. Every run produces the same samples.
func (s *Stream) Body(rs *rfpipe.RunState) error {
	r := rand.New(rand.NewSource(s.seed))
	if err := rs.StartSubstream(s.t0); err != nil {
		return err
	}
	for written := int64(0); written < s.ntTot; {
		nt := s.params.NtMaxWrite
		if left := s.ntTot - written; left < int64(nt) {
			nt = int(left)
		}
		w, err := rs.SetupWrite(nt, false)
		if err != nil {
			return err
		}
		for f := 0; f < w.NFreq; f++ {
			in, wt := w.Row(f)
			for i := range in {
				in[i] = float32(r.NormFloat64() * s.rms)
				wt[i] = 1
			}
		}
		if err := rs.FinalizeWrite(nt); err != nil {
			return err
		}
		written += int64(nt)
	}
	return rs.EndSubstream()
}
