package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/detrend"
	"github.com/pipelined/rfpipe/inject"
	"github.com/pipelined/rfpipe/internal/config"
	"github.com/pipelined/rfpipe/noise"
	"github.com/pipelined/rfpipe/signal"
	"github.com/pipelined/rfpipe/wav"
)

// defaultBitDepth is used by wav transforms without bit depth.
const defaultBitDepth = signal.BitDepth16

func newStream(c config.StreamConfig) (rfpipe.Stream, error) {
	switch c.Kind {
	case config.StreamNoise:
		s, err := noise.New(c.NFreq, c.NtChunk, c.NtTot, c.FreqLoMHz, c.FreqHiMHz, c.DtSample, c.SampleRms, noise.WithSeed(c.Seed))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StreamWav:
		var (
			s   *wav.Stream
			err error
		)
		switch {
		case c.Dir != "":
			s, err = wav.NewDirStream(c.Dir, c.NtChunk, c.FreqLoMHz, c.FreqHiMHz)
		case len(c.Paths) > 0:
			s, err = wav.NewListStream(c.Paths, c.NtChunk, c.FreqLoMHz, c.FreqHiMHz)
		default:
			s, err = wav.NewStream(c.Path, c.NtChunk, c.FreqLoMHz, c.FreqHiMHz)
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: stream kind %q", rfpipe.ErrConfig, c.Kind)
}

func newTransforms(cs []config.TransformConfig) ([]rfpipe.Transform, error) {
	transforms := make([]rfpipe.Transform, 0, len(cs))
	for i, c := range cs {
		var (
			t   rfpipe.Transform
			err error
		)
		switch c.Kind {
		case config.TransformDetrend:
			t, err = detrend.New(c.NtChunk)
		case config.TransformWav:
			bitDepth := signal.BitDepth(c.BitDepth)
			if bitDepth == 0 {
				bitDepth = defaultBitDepth
			}
			t, err = wav.NewWriter(c.Path, bitDepth, c.NtChunk)
		case config.TransformInject:
			if c.Pulse == nil {
				err = fmt.Errorf("%w: transform %q without pulse", rfpipe.ErrConfig, c.Kind)
				break
			}
			t, err = inject.New(inject.Pulse{
				SNR:            c.Pulse.SNR,
				ArrivalTime:    c.Pulse.ArrivalTime,
				DM:             c.Pulse.DM,
				IntrinsicWidth: c.Pulse.IntrinsicWidth,
				SpectralIndex:  c.Pulse.SpectralIndex,
				SampleRms:      c.Pulse.SampleRms,
			}, c.NtChunk)
		default:
			err = fmt.Errorf("%w: transform kind %q", rfpipe.ErrConfig, c.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		transforms = append(transforms, t)
	}
	return transforms, nil
}

func runOptions(c config.RunConfig, l logrus.FieldLogger, metered bool) []rfpipe.Option {
	options := []rfpipe.Option{
		rfpipe.WithLogger(l),
		rfpipe.WithName(c.Name),
	}
	if c.RingSize > 0 {
		options = append(options, rfpipe.WithRingSize(c.RingSize))
	}
	if c.IntegrityCheck {
		options = append(options, rfpipe.WithIntegrityCheck())
	}
	if c.Metrics || metered {
		options = append(options, rfpipe.WithMetric())
	}
	return options
}
