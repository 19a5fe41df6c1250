// Package inject adds a simulated dispersed pulse to the intensity of a
// stream. Weights are left unmodified, so the pulse can be injected into
// recorded data with its own mask.
//
// Frequency rows are ordered from high to low: row 0 is the channel at the
// top of the band.
package inject

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/log"
)

// DispersionConstant is the dispersion delay in seconds of a pulse with
// unit dispersion measure at 1 MHz.
const DispersionConstant = 4148.806

// profileSigmas is the half extent of a channel profile.
const profileSigmas = 6

// ErrConfig is returned when pulse parameters are not valid.
var ErrConfig = errors.New("invalid pulse")

// Pulse describes a single dispersed pulse.
type Pulse struct {
	// SNR is the signal-to-noise ratio of the pulse, assuming the same
	// SampleRms in every channel and unit weights.
	SNR float64
	// ArrivalTime is the time in seconds of the pulse without the
	// dispersion delay.
	ArrivalTime float64
	// DM is the dispersion measure, pc cm^-3.
	DM float64
	// IntrinsicWidth is the standard deviation of a Gaussian profile in
	// seconds. Zero width still gets dispersion smearing within a channel.
	IntrinsicWidth float64
	// SpectralIndex sets the strength of the pulse proportional to
	// frequency^SpectralIndex.
	SpectralIndex float64
	// SampleRms is the noise rms of a sample, 1 if zero.
	SampleRms float64
}

// channel is the profile of the pulse in a single frequency row.
type channel struct {
	center    float64
	sigma     float64
	amplitude float64
}

// Transform adds the pulse to every chunk it overlaps.
type Transform struct {
	pulse    Pulse
	params   rfpipe.TransformParams
	dtSample float64
	channels []channel
	// pulse extent
	start, end float64
	// span of the current substream
	substreamStart, substreamEnd float64
	log                          logrus.FieldLogger
}

// Option configures the transform.
type Option func(*Transform)

// WithLogger sets the logger used for warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Transform) {
		t.log = l
	}
}

// New creates an injector of the pulse with chunks of ntChunk samples.
func New(pulse Pulse, ntChunk int, options ...Option) (*Transform, error) {
	switch {
	case ntChunk <= 0:
		return nil, fmt.Errorf("%w: nt_chunk %d", ErrConfig, ntChunk)
	case pulse.SNR < 0:
		return nil, fmt.Errorf("%w: snr %v", ErrConfig, pulse.SNR)
	case pulse.DM < 0:
		return nil, fmt.Errorf("%w: dm %v", ErrConfig, pulse.DM)
	case pulse.IntrinsicWidth < 0:
		return nil, fmt.Errorf("%w: intrinsic width %v", ErrConfig, pulse.IntrinsicWidth)
	case pulse.SampleRms < 0:
		return nil, fmt.Errorf("%w: sample rms %v", ErrConfig, pulse.SampleRms)
	}
	if pulse.SampleRms == 0 {
		pulse.SampleRms = 1
	}
	t := &Transform{
		pulse:  pulse,
		params: rfpipe.TransformParams{NtChunk: ntChunk},
		log:    log.GetLogger(),
	}
	for _, option := range options {
		option(t)
	}
	return t, nil
}

// Name returns the name of injector used in logs.
func (t *Transform) Name() string {
	return "frb_injector_transform"
}

// SetStream implements rfpipe.Transform. Channel profiles are computed
// here and the pulse is normalized to its signal-to-noise ratio.
func (t *Transform) SetStream(p rfpipe.StreamParams) error {
	if p.FreqLoMHz <= 0 || p.FreqLoMHz >= p.FreqHiMHz {
		return fmt.Errorf("%w: frequency range [%v, %v] MHz", ErrConfig, p.FreqLoMHz, p.FreqHiMHz)
	}
	t.params.NFreq = p.NFreq
	t.dtSample = p.DtSample
	t.channels = make([]channel, p.NFreq)

	delay := func(freq float64) float64 {
		return DispersionConstant * t.pulse.DM / (freq * freq)
	}
	width := (p.FreqHiMHz - p.FreqLoMHz) / float64(p.NFreq)
	bandCenter := (p.FreqLoMHz + p.FreqHiMHz) / 2
	t.start, t.end = math.Inf(1), math.Inf(-1)
	for f := range t.channels {
		hi := p.FreqHiMHz - float64(f)*width
		lo := hi - width
		dlo, dhi := delay(lo), delay(hi)
		smear := dlo - dhi
		c := channel{
			center:    t.pulse.ArrivalTime + (dlo+dhi)/2,
			sigma:     math.Sqrt(t.pulse.IntrinsicWidth*t.pulse.IntrinsicWidth + smear*smear/12),
			amplitude: math.Pow((lo+hi)/2/bandCenter, t.pulse.SpectralIndex),
		}
		t.channels[f] = c
		t.start = math.Min(t.start, c.center-profileSigmas*c.sigma)
		t.end = math.Max(t.end, c.center+profileSigmas*c.sigma)
	}

	// signal-to-noise of the pulse with unit amplitude, on the sample grid
	var sum float64
	for _, c := range t.channels {
		first := math.Floor((c.center - profileSigmas*c.sigma) / t.dtSample)
		last := math.Ceil((c.center + profileSigmas*c.sigma) / t.dtSample)
		for k := first; k <= last; k++ {
			v := c.amplitude * c.fraction(k*t.dtSample, (k+1)*t.dtSample)
			sum += v * v
		}
	}
	snr := math.Sqrt(sum) / t.pulse.SampleRms
	if snr > 0 {
		scale := t.pulse.SNR / snr
		for f := range t.channels {
			t.channels[f].amplitude *= scale
		}
	}
	return nil
}

// Params implements rfpipe.Transform.
func (t *Transform) Params() rfpipe.TransformParams {
	return t.params
}

// Endpoints returns the time range in seconds where the pulse is not
// negligible.
func (t *Transform) Endpoints() (start, end float64) {
	return t.start, t.end
}

// StartSubstream implements rfpipe.Transform.
func (t *Transform) StartSubstream(t0 float64) error {
	t.substreamStart, t.substreamEnd = t0, t0
	return nil
}

// ProcessChunk implements rfpipe.Transform.
func (t *Transform) ProcessChunk(t0 float64, chunk, prepad rfpipe.Window) error {
	nt := t.params.NtChunk
	t1 := t0 + float64(nt)*t.dtSample
	t.substreamEnd = t1
	if t1 < t.start || t0 > t.end {
		return nil
	}
	for f := 0; f < chunk.NFreq; f++ {
		c := t.channels[f]
		in, _ := chunk.Row(f)
		for i := range in[:nt] {
			ts := t0 + float64(i)*t.dtSample
			in[i] += float32(c.amplitude * c.fraction(ts, ts+t.dtSample))
		}
	}
	return nil
}

// EndSubstream implements rfpipe.Transform. It warns if the pulse is not
// entirely contained in the substream.
func (t *Transform) EndSubstream() error {
	if t.start >= t.substreamStart && t.end <= t.substreamEnd {
		return nil
	}
	missing := 1.0
	if d := t.end - t.start; d > 0 {
		overlap := math.Max(math.Min(t.end, t.substreamEnd)-math.Max(t.start, t.substreamStart), 0)
		missing = 1 - overlap/d
	}
	t.log.WithFields(logrus.Fields{
		"substream_start": t.substreamStart,
		"substream_end":   t.substreamEnd,
		"missing":         missing,
	}).Warnf("%.1f%% of pulse was outside the substream", 100*missing)
	return nil
}

// fraction returns the part of the channel profile in [t0, t1).
func (c channel) fraction(t0, t1 float64) float64 {
	return c.cdf(t1) - c.cdf(t0)
}

func (c channel) cdf(t float64) float64 {
	if c.sigma == 0 {
		if t >= c.center {
			return 1
		}
		return 0
	}
	return 0.5 * (1 + math.Erf((t-c.center)/(c.sigma*math.Sqrt2)))
}
