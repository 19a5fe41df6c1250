package rfpipe

import (
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/pipelined/rfpipe/internal/state"
	"github.com/pipelined/rfpipe/log"
	"github.com/pipelined/rfpipe/metric"
	"github.com/pipelined/rfpipe/ring"
)

// RunState drives transforms over the samples written by a stream. It owns
// the main buffer and one prepad cache per transform. RunState is created
// for a single run and is not safe for concurrent use.
//
// Every error returned by RunState is fatal: once a call fails, all
// further calls return the same error.
type RunState struct {
	uid  string
	name string

	// stream params
	nfreq            int
	ntStreamMaxwrite int
	dtSample         float64

	transforms []Transform
	params     []TransformParams
	names      []string

	// timeline, in seconds relative to a stream-defined origin.
	// streamCurrTime is the time of sample writeIpos.
	substreamStartTime float64
	streamCurrTime     float64
	writeIpos          int64

	// sample counts, transformIpos[0] >= transformIpos[1] >= ...
	transformIpos []int64
	streamIpos    int64

	isubstream       int
	substreamSamples int64
	// nopen transforms have an open substream
	nopen int

	state     state.State
	ntPending int
	err       error

	mainBuffer    *ring.Buffer
	prepadBuffers []*ring.Buffer
	ntFlush       int

	log       logrus.FieldLogger
	ntRing    int
	integrity bool
	metered   bool
	meters    []metric.MeasureFunc
}

// NewRunState sets up transforms for the stream and allocates buffers.
// The main buffer is sized so that every transform always finds its chunk
// and postpad in the retained history.
func NewRunState(params StreamParams, transforms []Transform, options ...Option) (*RunState, error) {
	if err := validateStream(params); err != nil {
		return nil, err
	}
	rs := &RunState{
		uid:              newUID(),
		nfreq:            params.NFreq,
		ntStreamMaxwrite: params.NtMaxWrite,
		dtSample:         params.DtSample,
		transforms:       transforms,
		params:           make([]TransformParams, len(transforms)),
		names:            make([]string, len(transforms)),
		transformIpos:    make([]int64, len(transforms)),
		prepadBuffers:    make([]*ring.Buffer, len(transforms)),
		state:            state.Idle,
		log:              log.GetLogger(),
	}
	for _, option := range options {
		if err := option(rs); err != nil {
			return nil, err
		}
	}
	rs.log = rs.log.WithFields(logrus.Fields{"run": rs.uid, "name": rs.name})

	for i, t := range transforms {
		rs.names[i] = nameOf(t)
		if err := t.SetStream(params); err != nil {
			return nil, &TransformError{Index: i, Name: rs.names[i], Op: "set stream", Err: err}
		}
		rs.params[i] = t.Params()
		if err := validateTransform(params, rs.params[i]); err != nil {
			return nil, fmt.Errorf("transform %d (%s): %w", i, rs.names[i], err)
		}
	}

	ntContig, ntRing := rs.bufferSizes()
	if rs.ntRing != 0 {
		if rs.ntRing < ntRing {
			return nil, fmt.Errorf("%w: ring size %d is less than required %d", ErrConfig, rs.ntRing, ntRing)
		}
		ntRing = rs.ntRing
	}
	var err error
	if rs.mainBuffer, err = ring.New(rs.nfreq, ntContig, ntRing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for i, p := range rs.params {
		if p.NtPrepad == 0 {
			continue
		}
		if rs.prepadBuffers[i], err = ring.New(rs.nfreq, p.NtChunk, p.NtPrepad); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	rs.ntFlush = 1
	for _, p := range rs.params {
		if n := p.NtChunk + p.NtPostpad; n > rs.ntFlush {
			rs.ntFlush = n
		}
	}
	if rs.metered {
		rs.meters = make([]metric.MeasureFunc, len(transforms))
		for i, t := range transforms {
			rs.meters[i] = metric.Meter(t, rs.dtSample)
		}
	}
	rs.log.Debugf("buffers: %s", spew.Sdump(struct {
		NtContig   int
		NtRing     int
		Transforms []TransformParams
	}{ntContig, ntRing, rs.params}))
	return rs, nil
}

// bufferSizes returns contiguous size and required history of the main
// buffer.
func (rs *RunState) bufferSizes() (ntContig, ntRing int) {
	ntContig = rs.ntStreamMaxwrite
	var lag, maxPad, maxChunk int
	for _, p := range rs.params {
		if n := p.NtChunk + p.NtPostpad; n > ntContig {
			ntContig = n
		}
		lag += p.NtChunk + p.NtPostpad
		if n := p.NtPrepad + p.NtPostpad; n > maxPad {
			maxPad = n
		}
		if p.NtChunk > maxChunk {
			maxChunk = p.NtChunk
		}
	}
	ntRing = lag + ntContig
	if n := maxPad + maxChunk; n > ntRing {
		ntRing = n
	}
	return ntContig, ntRing
}

// StartSubstream starts a new substream at time t0. Positions, prepad
// caches and pending samples carry over from the previous substream.
func (rs *RunState) StartSubstream(t0 float64) error {
	if err := rs.transition(state.StartSubstream); err != nil {
		return err
	}
	rs.substreamStartTime = t0
	rs.streamCurrTime = t0
	rs.writeIpos = rs.streamIpos
	rs.substreamSamples = 0
	rs.log.WithFields(logrus.Fields{"substream": rs.isubstream, "t0": t0}).Info("start substream")
	for i, t := range rs.transforms {
		if err := t.StartSubstream(t0); err != nil {
			return rs.fail(&TransformError{Index: i, Name: rs.names[i], Op: "start substream", Err: err})
		}
		rs.nopen = i + 1
	}
	return nil
}

// SetupWrite returns a window of nt new samples for the stream to fill.
// The samples are timed right after the previous write. If zero is true,
// the window is zero-filled.
func (rs *RunState) SetupWrite(nt int, zero bool) (Window, error) {
	t0 := rs.streamCurrTime + float64(rs.streamIpos-rs.writeIpos)*rs.dtSample
	return rs.SetupWriteAt(nt, zero, t0)
}

// SetupWriteAt is SetupWrite with explicit time t0 of the first sample.
func (rs *RunState) SetupWriteAt(nt int, zero bool, t0 float64) (Window, error) {
	if err := rs.transition(state.SetupWrite); err != nil {
		return Window{}, err
	}
	if nt < 0 || nt > rs.ntStreamMaxwrite {
		return Window{}, rs.fail(fmt.Errorf("%w: write of %d samples, max %d", ErrConfig, nt, rs.ntStreamMaxwrite))
	}
	w, err := rs.mainBuffer.SetupAppend(nt, zero)
	if err != nil {
		return Window{}, rs.fail(err)
	}
	rs.ntPending = nt
	rs.streamCurrTime = t0
	rs.writeIpos = rs.streamIpos
	return w, nil
}

// FinalizeWrite commits nt samples set up by the latest SetupWrite and runs
// every transform that has enough data.
func (rs *RunState) FinalizeWrite(nt int) error {
	if err := rs.transition(state.FinalizeWrite); err != nil {
		return err
	}
	if nt != rs.ntPending {
		return rs.fail(fmt.Errorf("%w: finalize write of %d samples, %d pending", ErrInvalidState, nt, rs.ntPending))
	}
	if err := rs.mainBuffer.FinalizeAppend(nt); err != nil {
		return rs.fail(err)
	}
	rs.ntPending = 0
	rs.streamIpos += int64(nt)
	rs.substreamSamples += int64(nt)
	return rs.process()
}

// EndSubstream pads the stream with zero weights until every transform has
// consumed all written samples, then ends the substream of transforms.
func (rs *RunState) EndSubstream() error {
	if err := rs.transition(state.EndSubstream); err != nil {
		return err
	}
	end := rs.streamIpos
	for len(rs.transforms) > 0 && rs.transformIpos[len(rs.transforms)-1] < end {
		if err := rs.mainBuffer.AppendZeros(rs.ntFlush); err != nil {
			return rs.fail(err)
		}
		rs.streamIpos += int64(rs.ntFlush)
		if err := rs.process(); err != nil {
			return err
		}
	}
	if err := rs.endTransforms(); err != nil {
		return rs.fail(err)
	}
	rs.log.WithFields(logrus.Fields{
		"substream": rs.isubstream,
		"samples":   rs.substreamSamples,
		"padding":   rs.streamIpos - end,
	}).Info("end substream")
	rs.isubstream++
	rs.substreamSamples = 0
	return nil
}

// process runs transforms in order. Transform i fires while its chunk and
// postpad are available: written by the stream for the first transform,
// processed by transform i-1 for others.
func (rs *RunState) process() error {
	avail := rs.streamIpos
	for i, t := range rs.transforms {
		p := rs.params[i]
		for rs.transformIpos[i]+int64(p.NtChunk+p.NtPostpad) <= avail {
			if err := rs.processChunk(i, t, p); err != nil {
				return rs.fail(err)
			}
		}
		avail = rs.transformIpos[i]
	}
	if rs.integrity {
		if err := rs.CheckIntegrity(); err != nil {
			return rs.fail(err)
		}
	}
	return nil
}

func (rs *RunState) processChunk(i int, t Transform, p TransformParams) error {
	it0 := rs.transformIpos[i]
	nt := p.NtChunk + p.NtPostpad
	chunk, err := rs.mainBuffer.SetupWrite(it0, nt)
	if err != nil {
		return err
	}
	prepad := Window{NFreq: rs.nfreq}
	cache := rs.prepadBuffers[i]
	if cache != nil {
		if prepad, err = cache.SetupWrite(it0-int64(p.NtPrepad), p.NtPrepad); err != nil {
			return err
		}
	}

	t0 := rs.streamCurrTime + float64(it0-rs.writeIpos)*rs.dtSample
	start := time.Now()
	if err := t.ProcessChunk(t0, chunk, prepad); err != nil {
		return &TransformError{Index: i, Name: rs.names[i], Op: "process chunk", Err: err}
	}
	if rs.meters != nil {
		rs.meters[i](int64(p.NtChunk), time.Since(start))
	}
	if err := rs.mainBuffer.FinalizeWrite(it0, nt); err != nil {
		return err
	}

	if cache != nil {
		// keep the tail of the processed chunk as the next prepad
		w, err := cache.SetupAppend(p.NtChunk, false)
		if err != nil {
			return err
		}
		n := p.NtPrepad
		if n > p.NtChunk {
			n = p.NtChunk
		}
		for f := 0; f < rs.nfreq; f++ {
			src, srcw := chunk.Row(f)
			dst, dstw := w.Row(f)
			copy(dst[p.NtChunk-n:], src[p.NtChunk-n:p.NtChunk])
			copy(dstw[p.NtChunk-n:], srcw[p.NtChunk-n:p.NtChunk])
		}
		if err := cache.FinalizeAppend(p.NtChunk); err != nil {
			return err
		}
	}
	rs.transformIpos[i] += int64(p.NtChunk)
	return nil
}

// CheckIntegrity validates buffers bookkeeping and ordering of transform
// positions.
func (rs *RunState) CheckIntegrity() error {
	if err := rs.mainBuffer.CheckIntegrity(); err != nil {
		return err
	}
	prev := rs.streamIpos
	for i, pos := range rs.transformIpos {
		if pos > prev {
			return fmt.Errorf("transform %d at %d is ahead of %d", i, pos, prev)
		}
		if c := rs.prepadBuffers[i]; c != nil {
			if err := c.CheckIntegrity(); err != nil {
				return fmt.Errorf("transform %d prepad: %w", i, err)
			}
			if c.Pos() != pos {
				return fmt.Errorf("transform %d prepad at %d, transform at %d", i, c.Pos(), pos)
			}
		}
		prev = pos
	}
	return nil
}

// endTransforms ends the substream of every transform that started it.
// All of them are ended even if some fail.
func (rs *RunState) endTransforms() error {
	var errs execErrors
	for i, t := range rs.transforms[:rs.nopen] {
		if err := t.EndSubstream(); err != nil {
			errs = append(errs, &TransformError{Index: i, Name: rs.names[i], Op: "end substream", Err: err})
		}
	}
	rs.nopen = 0
	if len(errs) == 1 {
		return errs[0]
	}
	return errs.ret()
}

// abort ends the open substream of transforms without padding. It's called
// when the stream body fails, including failures of the run itself, so
// transforms can release their resources.
func (rs *RunState) abort() error {
	if rs.nopen == 0 {
		return nil
	}
	rs.log.WithField("state", rs.state).Warn("abort substream")
	rs.state = state.Idle
	return rs.endTransforms()
}

func (rs *RunState) transition(e state.Event) error {
	if rs.err != nil {
		return rs.err
	}
	s, err := state.Transition(rs.state, e)
	if err != nil {
		return rs.fail(err)
	}
	rs.state = s
	return nil
}

// fail records the first fatal error.
func (rs *RunState) fail(err error) error {
	if rs.err == nil {
		rs.err = err
		rs.log.WithError(err).Error("run failed")
	}
	return rs.err
}

// ID returns the unique id of the run.
func (rs *RunState) ID() string {
	return rs.uid
}

// State returns the current state of the run.
func (rs *RunState) State() state.State {
	return rs.state
}

// Err returns the fatal error of the run, if any.
func (rs *RunState) Err() error {
	return rs.err
}

// StreamPos returns the number of samples written to the main buffer,
// including end of substream padding.
func (rs *RunState) StreamPos() int64 {
	return rs.streamIpos
}

// TransformPos returns the number of samples consumed by transform i, or
// -1 if i is not in [0, NumTransforms()).
func (rs *RunState) TransformPos(i int) int64 {
	if i < 0 || i >= len(rs.transformIpos) {
		return -1
	}
	return rs.transformIpos[i]
}

// NumTransforms returns number of transforms.
func (rs *RunState) NumTransforms() int {
	return len(rs.transforms)
}

// Substream returns the index of current substream.
func (rs *RunState) Substream() int {
	return rs.isubstream
}

// SubstreamStartTime returns t0 of the current substream.
func (rs *RunState) SubstreamStartTime() float64 {
	return rs.substreamStartTime
}

func validateStream(p StreamParams) error {
	switch {
	case p.NFreq <= 0:
		return fmt.Errorf("%w: stream nfreq %d", ErrConfig, p.NFreq)
	case p.NtMaxWrite <= 0:
		return fmt.Errorf("%w: stream nt_maxwrite %d", ErrConfig, p.NtMaxWrite)
	case p.DtSample <= 0:
		return fmt.Errorf("%w: stream dt_sample %v", ErrConfig, p.DtSample)
	case p.FreqLoMHz > p.FreqHiMHz:
		return fmt.Errorf("%w: stream frequency range [%v, %v] MHz", ErrConfig, p.FreqLoMHz, p.FreqHiMHz)
	}
	return nil
}

func validateTransform(s StreamParams, p TransformParams) error {
	switch {
	case p.NFreq != s.NFreq:
		return fmt.Errorf("%w: nfreq %d does not match stream nfreq %d", ErrConfig, p.NFreq, s.NFreq)
	case p.NtChunk <= 0:
		return fmt.Errorf("%w: nt_chunk %d", ErrConfig, p.NtChunk)
	case p.NtPrepad < 0 || p.NtPostpad < 0:
		return fmt.Errorf("%w: nt_prepad %d, nt_postpad %d", ErrConfig, p.NtPrepad, p.NtPostpad)
	}
	return nil
}
