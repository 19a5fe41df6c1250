// Package wav allows to stream samples from wav files and write them back.
// Every audio channel is one frequency row.
package wav

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/signal"
)

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 8, 16, 24 and 32 bit depth is supported")
	// ErrInvalidFile is returned when file is not a valid wav.
	ErrInvalidFile = errors.New("wav is not valid")
	// ErrSampleRate is returned when sample time doesn't match any sample rate.
	ErrSampleRate = errors.New("invalid sample rate")
)

type (
	// Stream reads samples from a list of wav files. Every file is a
	// substream, the first sample of a file is timed right after the last
	// sample of the previous one.
	Stream struct {
		paths      []string
		bufferSize int
		params     rfpipe.StreamParams
		bitDepth   signal.BitDepth
		format     *audio.Format
	}

	// Writer is a transform that saves samples to wav file. Samples with
	// zero weight are written as silence. The file of substream i > 0 gets
	// suffix -i. Output is padded to a multiple of the chunk size.
	Writer struct {
		path     string
		bitDepth signal.BitDepth
		format   int
		params   rfpipe.TransformParams
		rate     int
		file     *os.File
		encoder  *wav.Encoder
		ib       *audio.IntBuffer
		masked   []float32
		nfiles   int
		written  bool
	}
)

// NewStream opens the wav file and reads its attributes. Samples are
// written in writes of bufferSize. Frequency range is set to the provided
// values.
func NewStream(path string, bufferSize int, freqLoMHz, freqHiMHz float64) (*Stream, error) {
	return NewListStream([]string{path}, bufferSize, freqLoMHz, freqHiMHz)
}

// NewDirStream streams all wav files of the directory in lexical order.
func NewDirStream(dir string, bufferSize int, freqLoMHz, freqHiMHz float64) (*Stream, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no wav files in %s", rfpipe.ErrConfig, dir)
	}
	return NewListStream(paths, bufferSize, freqLoMHz, freqHiMHz)
}

// NewListStream opens every file and checks that all of them have the
// number of channels and sample rate of the first one. Bit depth may
// differ.
func NewListStream(paths []string, bufferSize int, freqLoMHz, freqHiMHz float64) (*Stream, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("%w: buffer size %d", rfpipe.ErrConfig, bufferSize)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: empty list of files", rfpipe.ErrConfig)
	}
	var s *Stream
	for _, path := range paths {
		file, decoder, err := open(path)
		if err != nil {
			return nil, err
		}
		file.Close()
		if s == nil {
			s = &Stream{
				paths:      append([]string{}, paths...),
				bufferSize: bufferSize,
				bitDepth:   signal.BitDepth(decoder.BitDepth),
				format:     decoder.Format(),
				params: rfpipe.StreamParams{
					NFreq:      int(decoder.NumChans),
					FreqLoMHz:  freqLoMHz,
					FreqHiMHz:  freqHiMHz,
					DtSample:   1 / float64(decoder.SampleRate),
					NtMaxWrite: bufferSize,
				},
			}
			continue
		}
		if int(decoder.NumChans) != s.params.NFreq || int(decoder.SampleRate) != s.format.SampleRate {
			return nil, fmt.Errorf("%w: %s has %d channels at %d Hz, %s has %d channels at %d Hz",
				rfpipe.ErrConfig,
				path, decoder.NumChans, decoder.SampleRate,
				s.paths[0], s.params.NFreq, s.format.SampleRate,
			)
		}
	}
	return s, nil
}

func open(path string) (*os.File, *wav.Decoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		if err := file.Close(); err != nil {
			return nil, nil, fmt.Errorf("%w, failed to close the file %v: %v", ErrInvalidFile, path, err)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, path)
	}
	if !signal.BitDepth(decoder.BitDepth).Supported() {
		file.Close()
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, decoder.BitDepth)
	}
	return file, decoder, nil
}

// SampleRate returns sample rate of the files.
func (s *Stream) SampleRate() int {
	return s.format.SampleRate
}

// BitDepth returns bit depth of the first file.
func (s *Stream) BitDepth() signal.BitDepth {
	return s.bitDepth
}

// Paths returns the files of the stream.
func (s *Stream) Paths() []string {
	return s.paths
}

// Params implements rfpipe.Stream.
func (s *Stream) Params() rfpipe.StreamParams {
	return s.params
}

// Body implements rfpipe.Stream.
func (s *Stream) Body(rs *rfpipe.RunState) error {
	var t0 float64
	for _, path := range s.paths {
		nt, err := s.substream(rs, path, t0)
		if err != nil {
			return err
		}
		t0 += float64(nt) * s.params.DtSample
	}
	return nil
}

// substream writes the whole file as a substream starting at t0 and
// returns the number of samples.
func (s *Stream) substream(rs *rfpipe.RunState, path string, t0 float64) (int64, error) {
	file, decoder, err := open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	numChannels := s.params.NFreq
	bitDepth := signal.BitDepth(decoder.BitDepth)
	ib := &audio.IntBuffer{
		Format:         decoder.Format(),
		Data:           make([]int, s.bufferSize*numChannels),
		SourceBitDepth: int(bitDepth),
	}
	if err := rs.StartSubstream(t0); err != nil {
		return 0, err
	}
	var total int64
	for {
		read, err := decoder.PCMBuffer(ib)
		if err != nil {
			return total, err
		}
		if read == 0 {
			break
		}
		ints := signal.InterInt{Data: ib.Data[:read], NumChannels: numChannels, BitDepth: bitDepth}
		nt := ints.Size()
		w, err := rs.SetupWrite(nt, false)
		if err != nil {
			return total, err
		}
		ints.CopyToRows(w.Intensity, w.Stride)
		for f := 0; f < w.NFreq; f++ {
			_, wt := w.Row(f)
			for i := range wt {
				wt[i] = 1
			}
		}
		if err := rs.FinalizeWrite(nt); err != nil {
			return total, err
		}
		total += int64(nt)
	}
	return total, rs.EndSubstream()
}

// NewWriter creates a new wav writer. Samples are written in chunks of
// ntChunk.
func NewWriter(path string, bitDepth signal.BitDepth, ntChunk int) (*Writer, error) {
	if !bitDepth.Supported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	if ntChunk <= 0 {
		return nil, fmt.Errorf("%w: nt_chunk %d", rfpipe.ErrConfig, ntChunk)
	}
	return &Writer{
		path:     path,
		bitDepth: bitDepth,
		format:   1,
		params:   rfpipe.TransformParams{NtChunk: ntChunk},
	}, nil
}

// Name returns the name of writer used in logs.
func (w *Writer) Name() string {
	return fmt.Sprintf("wav_writer(%s)", filepath.Base(w.path))
}

// SetStream implements rfpipe.Transform. Sample time of the stream must
// correspond to an integer sample rate.
func (w *Writer) SetStream(p rfpipe.StreamParams) error {
	rate := math.Round(1 / p.DtSample)
	if rate < 1 || math.Abs(rate*p.DtSample-1) > 1e-6 {
		return fmt.Errorf("%w: sample time %v", ErrSampleRate, p.DtSample)
	}
	w.rate = int(rate)
	w.params.NFreq = p.NFreq
	w.masked = make([]float32, p.NFreq*w.params.NtChunk)
	w.ib = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: p.NFreq,
			SampleRate:  w.rate,
		},
		SourceBitDepth: int(w.bitDepth),
	}
	return nil
}

// Params implements rfpipe.Transform.
func (w *Writer) Params() rfpipe.TransformParams {
	return w.params
}

// Path returns the path of file for substream i.
func (w *Writer) Path(i int) string {
	if i == 0 {
		return w.path
	}
	ext := filepath.Ext(w.path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(w.path, ext), i, ext)
}

// StartSubstream implements rfpipe.Transform. It creates a new file.
func (w *Writer) StartSubstream(float64) error {
	f, err := os.Create(w.Path(w.nfiles))
	if err != nil {
		return err
	}
	w.nfiles++
	w.file = f
	w.written = false
	w.encoder = wav.NewEncoder(f, w.rate, int(w.bitDepth), w.params.NFreq, w.format)
	return nil
}

// ProcessChunk implements rfpipe.Transform.
func (w *Writer) ProcessChunk(t0 float64, chunk, prepad rfpipe.Window) error {
	nt := w.params.NtChunk
	for f := 0; f < chunk.NFreq; f++ {
		in, wt := chunk.Row(f)
		row := w.masked[f*nt : (f+1)*nt]
		for i := range row {
			if wt[i] > 0 {
				row[i] = in[i]
			} else {
				row[i] = 0
			}
		}
	}
	w.ib.Data = signal.InterIntFromRows(w.masked, nt, chunk.NFreq, nt, w.bitDepth, w.ib.Data)
	w.written = true
	return w.encoder.Write(w.ib)
}

// EndSubstream implements rfpipe.Transform. It flushes encoder and closes
// the file. A substream without chunks still gets wav headers.
func (w *Writer) EndSubstream() error {
	if w.encoder == nil {
		return nil
	}
	e, f := w.encoder, w.file
	w.encoder, w.file = nil, nil
	if !w.written {
		if err := e.Write(&audio.IntBuffer{Format: w.ib.Format, SourceBitDepth: int(w.bitDepth)}); err != nil {
			f.Close()
			return err
		}
	}
	if err := e.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
