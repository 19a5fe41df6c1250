package rfpipe

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/pipelined/rfpipe/internal/state"
	"github.com/pipelined/rfpipe/ring"
)

// Window is a contiguous view of frequency rows by time samples.
type Window = ring.Window

// StreamParams are fixed properties of a stream. They must be set before
// the run starts.
type StreamParams struct {
	NFreq     int
	FreqLoMHz float64
	FreqHiMHz float64
	// DtSample is the duration of one sample in seconds.
	DtSample float64
	// NtMaxWrite is the max number of samples per call to SetupWrite.
	// The main buffer is sized from it, so it should not be excessively
	// large.
	NtMaxWrite int
}

// TransformParams are fixed sizes of a transform. They must be set no later
// than SetStream.
type TransformParams struct {
	NFreq     int
	NtChunk   int
	NtPrepad  int
	NtPostpad int
}

// Stream is a source of samples. Body drives the whole run, schematically:
//
//	for each substream {
//		rs.StartSubstream(t0)
//		for more data {
//			w, err := rs.SetupWrite(nt, false)
//			// fill w
//			err = rs.FinalizeWrite(nt)
//		}
//		rs.EndSubstream()
//	}
type Stream interface {
	Params() StreamParams
	Body(rs *RunState) error
}

// Transform is a stage of the pipeline. Implementations must not retain
// windows passed to ProcessChunk after it returns.
//
// The chunk window holds NtChunk samples followed by NtPostpad samples of
// look-ahead, the prepad window holds NtPrepad samples of the transform's
// own output that preceded the chunk. The chunk part may be modified in
// place, the prepad window is read-only.
type Transform interface {
	SetStream(StreamParams) error
	Params() TransformParams
	StartSubstream(t0 float64) error
	ProcessChunk(t0 float64, chunk, prepad Window) error
	EndSubstream() error
}

// Run applies transforms to the stream. It returns when the stream body is
// done or any fatal error occurs. If the run fails with a substream open,
// every transform that started it gets EndSubstream.
func Run(stream Stream, transforms []Transform, options ...Option) error {
	rs, err := NewRunState(stream.Params(), transforms, options...)
	if err != nil {
		return err
	}
	err = stream.Body(rs)
	switch {
	case err != nil:
	case rs.err != nil:
		err = rs.err
	case rs.state != state.Idle:
		err = fmt.Errorf("%w: stream body returned in %v state", ErrInvalidState, rs.state)
	default:
		rs.log.Info("run done")
		return nil
	}
	if ferr := rs.abort(); ferr != nil {
		return &ErrorRun{ErrExec: err, ErrFlush: ferr}
	}
	return err
}

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// nameOf returns the name of transform.
func nameOf(t Transform) string {
	if n, ok := t.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}
