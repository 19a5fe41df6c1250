// Package mock provides mocks for streams and transforms and allows to
// execute integration tests.
package mock

import (
	"github.com/pipelined/rfpipe"
)

// Value returns a deterministic sample value for row f at position it.
func Value(f int, it int64) float32 {
	return float32(f*100000) + float32(it)
}

// Stream mocks a rfpipe.Stream interface. It writes Limit samples per
// substream, in writes of WriteSize samples. Intensity is Value, weights
// are ones.
type Stream struct {
	counter
	rfpipe.StreamParams
	Limit      int
	WriteSize  int
	Substreams int
	// T0 is the time of the first substream.
	T0 float64
	// ErrorOnCall is returned after the first write.
	ErrorOnCall error
	// Incomplete leaves the last substream open.
	Incomplete bool
}

// Params returns stream params.
func (m *Stream) Params() rfpipe.StreamParams {
	return m.StreamParams
}

// Body writes samples into run state.
func (m *Stream) Body(rs *rfpipe.RunState) error {
	substreams := m.Substreams
	if substreams == 0 {
		substreams = 1
	}
	writeSize := m.WriteSize
	if writeSize == 0 {
		writeSize = m.NtMaxWrite
	}
	t0 := m.T0
	for s := 0; s < substreams; s++ {
		if err := rs.StartSubstream(t0); err != nil {
			return err
		}
		for written := 0; written < m.Limit; {
			nt := writeSize
			if left := m.Limit - written; left < nt {
				nt = left
			}
			w, err := rs.SetupWrite(nt, false)
			if err != nil {
				return err
			}
			for f := 0; f < w.NFreq; f++ {
				in, wt := w.Row(f)
				for i := range in {
					in[i] = Value(f, m.samples+int64(i))
					wt[i] = 1
				}
			}
			if err := rs.FinalizeWrite(nt); err != nil {
				return err
			}
			m.advance(nt)
			written += nt
			if m.ErrorOnCall != nil {
				return m.ErrorOnCall
			}
		}
		if m.Incomplete && s == substreams-1 {
			return nil
		}
		if err := rs.EndSubstream(); err != nil {
			return err
		}
		t0 += float64(m.Limit) * m.DtSample
	}
	return nil
}

// Call is a copy of arguments of a single ProcessChunk call.
type Call struct {
	T0     float64
	Chunk  Plane
	Prepad Plane
}

// Plane is a copy of a window.
type Plane struct {
	Intensity [][]float32
	Weights   [][]float32
}

// Copy copies the window into a new plane.
func Copy(w rfpipe.Window) Plane {
	p := Plane{
		Intensity: make([][]float32, w.NFreq),
		Weights:   make([][]float32, w.NFreq),
	}
	for f := 0; f < w.NFreq; f++ {
		in, wt := w.Row(f)
		p.Intensity[f] = append([]float32{}, in...)
		p.Weights[f] = append([]float32{}, wt...)
	}
	return p
}

// Transform mocks a rfpipe.Transform interface. If NFreq is not set, it's
// taken from the stream.
type Transform struct {
	counter
	rfpipe.TransformParams
	// Mutate is applied to the chunk part of every window.
	Mutate func(t0 float64, chunk rfpipe.Window)
	// OnChunk is called before Mutate with the full windows.
	OnChunk func(t0 float64, chunk, prepad rfpipe.Window)
	// Record keeps a copy of every call.
	Record bool
	Calls  []Call

	// ErrorOnCall is returned by ProcessChunk after CallsBeforeError
	// successful calls.
	ErrorOnCall      error
	CallsBeforeError int
	Hooks
}

// SetStream implements rfpipe.Transform.
func (m *Transform) SetStream(p rfpipe.StreamParams) error {
	m.Stream = p
	if m.NFreq == 0 {
		m.NFreq = p.NFreq
	}
	return m.ErrorOnSetStream
}

// Params implements rfpipe.Transform.
func (m *Transform) Params() rfpipe.TransformParams {
	return m.TransformParams
}

// StartSubstream implements rfpipe.Transform.
func (m *Transform) StartSubstream(t0 float64) error {
	m.Started = append(m.Started, t0)
	return m.ErrorOnStart
}

// ProcessChunk implements rfpipe.Transform.
func (m *Transform) ProcessChunk(t0 float64, chunk, prepad rfpipe.Window) error {
	if m.ErrorOnCall != nil && m.calls >= m.CallsBeforeError {
		return m.ErrorOnCall
	}
	if m.OnChunk != nil {
		m.OnChunk(t0, chunk, prepad)
	}
	if m.Mutate != nil {
		w := chunk
		w.Nt = m.NtChunk
		m.Mutate(t0, w)
	}
	if m.Record {
		m.Calls = append(m.Calls, Call{
			T0:     t0,
			Chunk:  Copy(chunk),
			Prepad: Copy(prepad),
		})
	}
	m.advance(m.NtChunk)
	return nil
}

// EndSubstream implements rfpipe.Transform.
func (m *Transform) EndSubstream() error {
	m.Ended++
	return m.ErrorOnEnd
}

// Hooks allows to mock transform lifecycle.
type Hooks struct {
	Stream  rfpipe.StreamParams
	Started []float64
	Ended   int

	ErrorOnSetStream error
	ErrorOnStart     error
	ErrorOnEnd       error
}

// counter counts calls and samples.
type counter struct {
	calls   int
	samples int64
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.calls++
	c.samples = c.samples + int64(size)
}

// Count returns calls and samples metrics.
func (c *counter) Count() (int, int64) {
	return c.calls, c.samples
}
