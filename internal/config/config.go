// Package config loads pipeline configuration from a YAML file and
// RFPIPE_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g. RFPIPE_STREAM_NFREQ
// for stream.nfreq.
const EnvPrefix = "RFPIPE"

// Stream kinds.
const (
	StreamNoise = "noise"
	StreamWav   = "wav"
)

// Transform kinds.
const (
	TransformDetrend = "detrend"
	TransformWav     = "wav"
	TransformInject  = "inject"
)

// Config is the complete pipeline configuration.
type Config struct {
	Stream     StreamConfig      `mapstructure:"stream" yaml:"stream"`
	Transforms []TransformConfig `mapstructure:"transforms" yaml:"transforms"`
	Run        RunConfig         `mapstructure:"run" yaml:"run"`
}

// StreamConfig describes the source of samples.
type StreamConfig struct {
	// Kind is one of: "noise", "wav"
	Kind      string  `mapstructure:"kind" yaml:"kind"`
	NFreq     int     `mapstructure:"nfreq" yaml:"nfreq"`
	NtChunk   int     `mapstructure:"nt_chunk" yaml:"nt_chunk"`
	NtTot     int64   `mapstructure:"nt_tot" yaml:"nt_tot"`
	FreqLoMHz float64 `mapstructure:"freq_lo_mhz" yaml:"freq_lo_mhz"`
	FreqHiMHz float64 `mapstructure:"freq_hi_mhz" yaml:"freq_hi_mhz"`
	DtSample  float64 `mapstructure:"dt_sample" yaml:"dt_sample"`
	SampleRms float64 `mapstructure:"sample_rms" yaml:"sample_rms"`
	Seed      int64   `mapstructure:"seed" yaml:"seed"`
	// Wav files are set by one of: Path of a single file, list of Paths,
	// Dir with files streamed in lexical order. Every file is a substream.
	Path  string   `mapstructure:"path" yaml:"path,omitempty"`
	Paths []string `mapstructure:"paths" yaml:"paths,omitempty"`
	Dir   string   `mapstructure:"dir" yaml:"dir,omitempty"`
}

// TransformConfig describes one stage of the pipeline.
type TransformConfig struct {
	// Kind is one of: "detrend", "wav", "inject"
	Kind    string `mapstructure:"kind" yaml:"kind"`
	NtChunk int    `mapstructure:"nt_chunk" yaml:"nt_chunk"`
	// Path and BitDepth of the wav file
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	BitDepth int    `mapstructure:"bit_depth" yaml:"bit_depth,omitempty"`
	// Pulse of the injector
	Pulse *PulseConfig `mapstructure:"pulse" yaml:"pulse,omitempty"`
}

// PulseConfig describes a simulated dispersed pulse.
type PulseConfig struct {
	SNR            float64 `mapstructure:"snr" yaml:"snr"`
	ArrivalTime    float64 `mapstructure:"arrival_time" yaml:"arrival_time"`
	DM             float64 `mapstructure:"dm" yaml:"dm"`
	IntrinsicWidth float64 `mapstructure:"intrinsic_width" yaml:"intrinsic_width"`
	SpectralIndex  float64 `mapstructure:"spectral_index" yaml:"spectral_index"`
	SampleRms      float64 `mapstructure:"sample_rms" yaml:"sample_rms"`
}

// RunConfig controls the run.
type RunConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// RingSize overrides the history of the main buffer, 0 means computed
	RingSize       int  `mapstructure:"ring_size" yaml:"ring_size"`
	IntegrityCheck bool `mapstructure:"integrity_check" yaml:"integrity_check"`
	Metrics        bool `mapstructure:"metrics" yaml:"metrics"`
	Debug          bool `mapstructure:"debug" yaml:"debug"`
}

// Default returns the configuration of a short noise run through a single
// detrender.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			Kind:      StreamNoise,
			NFreq:     1024,
			NtChunk:   1024,
			NtTot:     1 << 16,
			FreqLoMHz: 400,
			FreqHiMHz: 800,
			DtSample:  1e-3,
			SampleRms: 1,
			Seed:      1,
		},
		Transforms: []TransformConfig{
			{Kind: TransformDetrend, NtChunk: 1024},
		},
		Run: RunConfig{
			Name: "rfpipe",
		},
	}
}

// SetDefaults registers default values in v. Env overrides only work for
// keys with defaults.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("stream.kind", defaults.Stream.Kind)
	v.SetDefault("stream.nfreq", defaults.Stream.NFreq)
	v.SetDefault("stream.nt_chunk", defaults.Stream.NtChunk)
	v.SetDefault("stream.nt_tot", defaults.Stream.NtTot)
	v.SetDefault("stream.freq_lo_mhz", defaults.Stream.FreqLoMHz)
	v.SetDefault("stream.freq_hi_mhz", defaults.Stream.FreqHiMHz)
	v.SetDefault("stream.dt_sample", defaults.Stream.DtSample)
	v.SetDefault("stream.sample_rms", defaults.Stream.SampleRms)
	v.SetDefault("stream.seed", defaults.Stream.Seed)
	v.SetDefault("stream.path", defaults.Stream.Path)
	v.SetDefault("stream.dir", defaults.Stream.Dir)

	v.SetDefault("transforms", []map[string]interface{}{
		{"kind": TransformDetrend, "nt_chunk": defaults.Transforms[0].NtChunk},
	})

	v.SetDefault("run.name", defaults.Run.Name)
	v.SetDefault("run.ring_size", defaults.Run.RingSize)
	v.SetDefault("run.integrity_check", defaults.Run.IntegrityCheck)
	v.SetDefault("run.metrics", defaults.Run.Metrics)
	v.SetDefault("run.debug", defaults.Run.Debug)
}

// New returns a viper instance with defaults and env overrides. If path is
// not empty, the file is read.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	// RFPIPE_STREAM_NFREQ for stream.nfreq
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// LoadFile is New followed by Load.
func LoadFile(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Load(v)
}
