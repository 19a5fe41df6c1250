package rfpipe

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Option provides a way to set functional parameters to run state.
type Option func(*RunState) error

// WithLogger sets logger to run state. If this option is not provided,
// log.GetLogger is used.
func WithLogger(l logrus.FieldLogger) Option {
	return func(rs *RunState) error {
		rs.log = l
		return nil
	}
}

// WithName sets name to run state. It's used in log entries.
func WithName(n string) Option {
	return func(rs *RunState) error {
		rs.name = n
		return nil
	}
}

// WithRingSize overrides the history retained by the main buffer. The size
// cannot be less than transforms require.
func WithRingSize(nt int) Option {
	return func(rs *RunState) error {
		if nt <= 0 {
			return fmt.Errorf("%w: ring size %d", ErrConfig, nt)
		}
		rs.ntRing = nt
		return nil
	}
}

// WithIntegrityCheck enables buffers validation after every commit. It's
// meant for debugging.
func WithIntegrityCheck() Option {
	return func(rs *RunState) error {
		rs.integrity = true
		return nil
	}
}

// WithMetric enables metrics for all transforms.
func WithMetric() Option {
	return func(rs *RunState) error {
		rs.metered = true
		return nil
	}
}
