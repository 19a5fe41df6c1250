package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // e.g. "stream.nfreq"
	Value   any
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateStream()...)
	errors = append(errors, c.validateTransforms()...)
	if c.Run.RingSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.ring_size",
			Value:   c.Run.RingSize,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateStream() []ValidationError {
	var errors []ValidationError
	s := c.Stream
	positive := func(field string, value float64) {
		if value <= 0 {
			errors = append(errors, ValidationError{Field: field, Value: value, Message: "must be positive"})
		}
	}

	switch s.Kind {
	case StreamNoise:
		positive("stream.nfreq", float64(s.NFreq))
		positive("stream.dt_sample", s.DtSample)
		if s.NtTot < 0 {
			errors = append(errors, ValidationError{Field: "stream.nt_tot", Value: s.NtTot, Message: "must be non-negative"})
		}
		if s.SampleRms < 0 {
			errors = append(errors, ValidationError{Field: "stream.sample_rms", Value: s.SampleRms, Message: "must be non-negative"})
		}
		if s.FreqLoMHz <= 0 || s.FreqLoMHz >= s.FreqHiMHz {
			errors = append(errors, ValidationError{
				Field:   "stream.freq_lo_mhz",
				Value:   s.FreqLoMHz,
				Message: fmt.Sprintf("must be positive and less than stream.freq_hi_mhz %v", s.FreqHiMHz),
			})
		}
	case StreamWav:
		var sources []string
		if s.Path != "" {
			sources = append(sources, "path")
		}
		if len(s.Paths) > 0 {
			sources = append(sources, "paths")
		}
		if s.Dir != "" {
			sources = append(sources, "dir")
		}
		switch len(sources) {
		case 0:
			errors = append(errors, ValidationError{Field: "stream.path", Value: s.Path, Message: "one of path, paths or dir is required"})
		case 1:
		default:
			errors = append(errors, ValidationError{Field: "stream." + sources[1], Value: sources, Message: "only one of path, paths or dir is allowed"})
		}
		for i, p := range s.Paths {
			if p == "" {
				errors = append(errors, ValidationError{Field: fmt.Sprintf("stream.paths[%d]", i), Value: p, Message: "must not be empty"})
			}
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "stream.kind",
			Value:   s.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join([]string{StreamNoise, StreamWav}, ", ")),
		})
	}
	positive("stream.nt_chunk", float64(s.NtChunk))
	return errors
}

func (c *Config) validateTransforms() []ValidationError {
	var errors []ValidationError
	for i, t := range c.Transforms {
		field := func(name string) string {
			return fmt.Sprintf("transforms[%d].%s", i, name)
		}
		if t.NtChunk <= 0 {
			errors = append(errors, ValidationError{Field: field("nt_chunk"), Value: t.NtChunk, Message: "must be positive"})
		}
		switch t.Kind {
		case TransformDetrend:
		case TransformWav:
			if t.Path == "" {
				errors = append(errors, ValidationError{Field: field("path"), Value: t.Path, Message: "is required"})
			}
			switch t.BitDepth {
			case 0, 8, 16, 24, 32:
			default:
				errors = append(errors, ValidationError{Field: field("bit_depth"), Value: t.BitDepth, Message: "must be one of: 8, 16, 24, 32"})
			}
		case TransformInject:
			errors = append(errors, validatePulse(field("pulse"), t.Pulse)...)
		default:
			errors = append(errors, ValidationError{
				Field:   field("kind"),
				Value:   t.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join([]string{TransformDetrend, TransformWav, TransformInject}, ", ")),
			})
		}
	}
	return errors
}

func validatePulse(field string, p *PulseConfig) []ValidationError {
	if p == nil {
		return []ValidationError{{Field: field, Value: p, Message: "is required"}}
	}
	var errors []ValidationError
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"snr", p.SNR},
		{"dm", p.DM},
		{"intrinsic_width", p.IntrinsicWidth},
		{"sample_rms", p.SampleRms},
	} {
		if v.value < 0 {
			errors = append(errors, ValidationError{Field: field + "." + v.name, Value: v.value, Message: "must be non-negative"})
		}
	}
	return errors
}
