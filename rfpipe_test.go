package rfpipe_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/internal/mock"
	"github.com/pipelined/rfpipe/internal/state"
	"github.com/pipelined/rfpipe/log"
	"github.com/pipelined/rfpipe/metric"
)

var errTest = errors.New("test error")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet() rfpipe.Option {
	return rfpipe.WithLogger(log.Discard())
}

// write appends nt mock samples starting at the stream position.
func write(t *testing.T, rs *rfpipe.RunState, nt int) {
	t.Helper()
	it0 := rs.StreamPos()
	w, err := rs.SetupWrite(nt, false)
	require.NoError(t, err)
	for f := 0; f < w.NFreq; f++ {
		in, wt := w.Row(f)
		for i := range in {
			in[i] = mock.Value(f, it0+int64(i))
			wt[i] = 1
		}
	}
	require.NoError(t, rs.FinalizeWrite(nt))
}

func negate(t0 float64, chunk rfpipe.Window) {
	for f := 0; f < chunk.NFreq; f++ {
		in, _ := chunk.Row(f)
		for i := range in {
			in[i] = -in[i]
		}
	}
}

func TestPrepad(t *testing.T) {
	transform := &mock.Transform{
		TransformParams: rfpipe.TransformParams{NtChunk: 256, NtPrepad: 32},
		Mutate:          negate,
		Record:          true,
	}
	rs, err := rfpipe.NewRunState(
		rfpipe.StreamParams{NFreq: 4, DtSample: 1, NtMaxWrite: 1024},
		[]rfpipe.Transform{transform},
		quiet(),
		rfpipe.WithIntegrityCheck(),
	)
	require.NoError(t, err)
	require.NoError(t, rs.StartSubstream(0))
	for i := 0; i < 4; i++ {
		write(t, rs, 256)
		assert.Len(t, transform.Calls, i+1)
	}
	require.NoError(t, rs.EndSubstream())
	require.Len(t, transform.Calls, 4)

	for f := 0; f < 4; f++ {
		assert.Equal(t, make([]float32, 32), transform.Calls[0].Prepad.Intensity[f])
		assert.Equal(t, make([]float32, 32), transform.Calls[0].Prepad.Weights[f])
	}
	for i := 1; i < 4; i++ {
		prev := transform.Calls[i-1].Chunk
		for f := 0; f < 4; f++ {
			assert.Equal(t, prev.Intensity[f][224:], transform.Calls[i].Prepad.Intensity[f])
			assert.Equal(t, prev.Weights[f][224:], transform.Calls[i].Prepad.Weights[f])
			assert.Equal(t, -mock.Value(f, int64(i*256-1)), transform.Calls[i].Prepad.Intensity[f][31])
		}
		assert.Equal(t, float64(i*256), transform.Calls[i].T0)
	}
}

func TestTwoTransformsOneWrite(t *testing.T) {
	var rs *rfpipe.RunState
	checkOrder := func(float64, rfpipe.Window, rfpipe.Window) {
		assert.GreaterOrEqual(t, rs.StreamPos(), rs.TransformPos(0))
		assert.GreaterOrEqual(t, rs.TransformPos(0), rs.TransformPos(1))
	}
	t1 := &mock.Transform{
		TransformParams: rfpipe.TransformParams{NtChunk: 128},
		OnChunk:         checkOrder,
	}
	t2 := &mock.Transform{
		TransformParams: rfpipe.TransformParams{NtChunk: 256},
		OnChunk:         checkOrder,
	}
	var err error
	rs, err = rfpipe.NewRunState(
		rfpipe.StreamParams{NFreq: 2, DtSample: 1, NtMaxWrite: 256},
		[]rfpipe.Transform{t1, t2},
		quiet(),
	)
	require.NoError(t, err)
	require.NoError(t, rs.StartSubstream(0))
	write(t, rs, 256)

	calls, _ := t1.Count()
	assert.Equal(t, 2, calls)
	calls, _ = t2.Count()
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(256), rs.TransformPos(0))
	assert.Equal(t, int64(256), rs.TransformPos(1))
	require.NoError(t, rs.EndSubstream())
	assert.Equal(t, state.Idle, rs.State())
}

// TestChainRandomized runs chains of transforms with random sizes. Every
// transform adds one to its chunk, so transform i must see the stream
// processed exactly i times in its chunk and postpad, and its own output
// in the prepad.
func TestChainRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		const nfreq = 2
		limit := 200 + r.Intn(300)
		ntransforms := 1 + r.Intn(4)
		transforms := make([]rfpipe.Transform, ntransforms)
		mocks := make([]*mock.Transform, ntransforms)
		var rs *rfpipe.RunState
		for i := range transforms {
			i := i
			m := &mock.Transform{
				TransformParams: rfpipe.TransformParams{
					NtChunk:   1 + r.Intn(40),
					NtPrepad:  r.Intn(30),
					NtPostpad: r.Intn(20),
				},
				Mutate: func(t0 float64, chunk rfpipe.Window) {
					for f := 0; f < chunk.NFreq; f++ {
						in, _ := chunk.Row(f)
						for j := range in {
							in[j]++
						}
					}
				},
			}
			m.OnChunk = func(t0 float64, chunk, prepad rfpipe.Window) {
				it0 := int64(t0)
				require.Equal(t, m.NtChunk+m.NtPostpad, chunk.Nt)
				require.Equal(t, m.NtPrepad, prepad.Nt)
				for f := 0; f < nfreq; f++ {
					in, wt := chunk.Row(f)
					for j := range in {
						p := it0 + int64(j)
						expected, weight := float32(i), float32(0)
						if p < int64(limit) {
							expected, weight = mock.Value(f, p)+float32(i), 1
						}
						require.Equal(t, expected, in[j], "run %d transform %d position %d", run, i, p)
						require.Equal(t, weight, wt[j])
					}
					pin, _ := prepad.Row(f)
					for j := range pin {
						p := it0 - int64(m.NtPrepad) + int64(j)
						var expected float32
						switch {
						case p >= int64(limit):
							expected = float32(i + 1)
						case p >= 0:
							expected = mock.Value(f, p) + float32(i+1)
						}
						require.Equal(t, expected, pin[j], "run %d transform %d prepad position %d", run, i, p)
					}
				}
				for k := 1; k < rs.NumTransforms(); k++ {
					require.GreaterOrEqual(t, rs.TransformPos(k-1), rs.TransformPos(k))
				}
			}
			transforms[i] = m
			mocks[i] = m
		}

		maxWrite := 1 + r.Intn(64)
		var err error
		rs, err = rfpipe.NewRunState(
			rfpipe.StreamParams{NFreq: nfreq, DtSample: 1, NtMaxWrite: maxWrite},
			transforms,
			quiet(),
			rfpipe.WithIntegrityCheck(),
		)
		require.NoError(t, err)
		require.NoError(t, rs.StartSubstream(0))
		for written := 0; written < limit; {
			nt := 1 + r.Intn(maxWrite)
			if nt > limit-written {
				nt = limit - written
			}
			write(t, rs, nt)
			written += nt
			require.NoError(t, rs.CheckIntegrity())
			for k := 1; k < ntransforms; k++ {
				require.GreaterOrEqual(t, rs.TransformPos(k-1), rs.TransformPos(k))
			}
		}
		require.NoError(t, rs.EndSubstream())
		for i, m := range mocks {
			assert.GreaterOrEqual(t, rs.TransformPos(i), int64(limit))
			assert.Equal(t, 1, m.Ended)
		}
	}
}

func TestPostpad(t *testing.T) {
	transform := &mock.Transform{
		TransformParams: rfpipe.TransformParams{NtChunk: 4, NtPostpad: 2},
		Record:          true,
	}
	stream := &mock.Stream{
		StreamParams: rfpipe.StreamParams{NFreq: 1, DtSample: 1, NtMaxWrite: 3},
		Limit:        8,
	}
	require.NoError(t, rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet()))

	// flush appends 6 zero samples, enough for two more chunks
	require.Len(t, transform.Calls, 3)
	assert.Equal(t, [][]float32{{0, 1, 2, 3, 4, 5}}, transform.Calls[0].Chunk.Intensity)
	assert.Equal(t, [][]float32{{4, 5, 6, 7, 0, 0}}, transform.Calls[1].Chunk.Intensity)
	assert.Equal(t, [][]float32{{1, 1, 1, 1, 0, 0}}, transform.Calls[1].Chunk.Weights)
	assert.Equal(t, [][]float32{{0, 0, 0, 0, 0, 0}}, transform.Calls[2].Chunk.Weights)
}

func TestSubstreams(t *testing.T) {
	transform := &mock.Transform{
		TransformParams: rfpipe.TransformParams{NtChunk: 4, NtPrepad: 2},
		Record:          true,
		Mutate: func(t0 float64, chunk rfpipe.Window) {
			in, _ := chunk.Row(0)
			for i := range in {
				in[i]++
			}
		},
	}
	stream := &mock.Stream{
		StreamParams: rfpipe.StreamParams{NFreq: 1, DtSample: 1, NtMaxWrite: 6},
		Limit:        6,
		Substreams:   2,
		T0:           100,
	}
	require.NoError(t, rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet()))

	assert.Equal(t, []float64{100, 106}, transform.Started)
	assert.Equal(t, 2, transform.Ended)
	// substream 1: [0, 4), [4, 8) with padding at 6, 7
	// substream 2: [8, 12) with padding at 8, 9, then [12, 16)
	require.Len(t, transform.Calls, 4)
	assert.Equal(t, [][]float32{{0, 0}}, transform.Calls[0].Prepad.Intensity)
	assert.Equal(t, [][]float32{{1, 1}}, transform.Calls[2].Prepad.Intensity, "prepad carries over substreams")
	assert.Equal(t, [][]float32{{1, 1, 7, 8}}, transform.Calls[2].Chunk.Intensity)
	assert.Equal(t, [][]float32{{0, 0, 1, 1}}, transform.Calls[2].Chunk.Weights)
	assert.Equal(t, 104.0, transform.Calls[2].T0)
}

func TestProtocolErrors(t *testing.T) {
	newRunState := func(t *testing.T) *rfpipe.RunState {
		rs, err := rfpipe.NewRunState(
			rfpipe.StreamParams{NFreq: 1, DtSample: 1, NtMaxWrite: 8},
			[]rfpipe.Transform{&mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}}},
			quiet(),
		)
		require.NoError(t, err)
		return rs
	}
	tests := []struct {
		description string
		calls       func(rs *rfpipe.RunState) error
		expected    error
	}{
		{
			description: "write before start",
			calls: func(rs *rfpipe.RunState) error {
				_, err := rs.SetupWrite(4, false)
				return err
			},
			expected: rfpipe.ErrInvalidState,
		},
		{
			description: "finalize without setup",
			calls: func(rs *rfpipe.RunState) error {
				if err := rs.StartSubstream(0); err != nil {
					return err
				}
				return rs.FinalizeWrite(4)
			},
			expected: rfpipe.ErrInvalidState,
		},
		{
			description: "start twice",
			calls: func(rs *rfpipe.RunState) error {
				if err := rs.StartSubstream(0); err != nil {
					return err
				}
				return rs.StartSubstream(0)
			},
			expected: rfpipe.ErrInvalidState,
		},
		{
			description: "end while write pending",
			calls: func(rs *rfpipe.RunState) error {
				if err := rs.StartSubstream(0); err != nil {
					return err
				}
				if _, err := rs.SetupWrite(4, false); err != nil {
					return err
				}
				return rs.EndSubstream()
			},
			expected: rfpipe.ErrInvalidState,
		},
		{
			description: "mismatched finalize",
			calls: func(rs *rfpipe.RunState) error {
				if err := rs.StartSubstream(0); err != nil {
					return err
				}
				if _, err := rs.SetupWrite(4, false); err != nil {
					return err
				}
				return rs.FinalizeWrite(3)
			},
			expected: rfpipe.ErrInvalidState,
		},
		{
			description: "write too large",
			calls: func(rs *rfpipe.RunState) error {
				if err := rs.StartSubstream(0); err != nil {
					return err
				}
				_, err := rs.SetupWrite(9, false)
				return err
			},
			expected: rfpipe.ErrConfig,
		},
	}
	for _, test := range tests {
		rs := newRunState(t)
		err := test.calls(rs)
		assert.True(t, errors.Is(err, test.expected), "%s: %v", test.description, err)
		// run state is broken after fatal error
		assert.Equal(t, err, rs.StartSubstream(0), test.description)
		assert.Equal(t, err, rs.Err(), test.description)
	}
}

func TestConfigErrors(t *testing.T) {
	stream := rfpipe.StreamParams{NFreq: 4, DtSample: 1, NtMaxWrite: 16}
	tests := []struct {
		description string
		stream      rfpipe.StreamParams
		transform   *mock.Transform
		options     []rfpipe.Option
	}{
		{
			description: "no frequencies",
			stream:      rfpipe.StreamParams{DtSample: 1, NtMaxWrite: 16},
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		},
		{
			description: "no max write",
			stream:      rfpipe.StreamParams{NFreq: 4, DtSample: 1},
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		},
		{
			description: "no sample time",
			stream:      rfpipe.StreamParams{NFreq: 4, NtMaxWrite: 16},
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		},
		{
			description: "inverted frequencies",
			stream:      rfpipe.StreamParams{NFreq: 4, DtSample: 1, NtMaxWrite: 16, FreqLoMHz: 800, FreqHiMHz: 400},
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		},
		{
			description: "nfreq mismatch",
			stream:      stream,
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NFreq: 3, NtChunk: 4}},
		},
		{
			description: "no chunk",
			stream:      stream,
			transform:   &mock.Transform{},
		},
		{
			description: "negative prepad",
			stream:      stream,
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4, NtPrepad: -1}},
		},
		{
			description: "ring too small",
			stream:      stream,
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4, NtPrepad: 8}},
			options:     []rfpipe.Option{rfpipe.WithRingSize(19)},
		},
		{
			description: "negative ring",
			stream:      stream,
			transform:   &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
			options:     []rfpipe.Option{rfpipe.WithRingSize(-1)},
		},
	}
	for _, test := range tests {
		options := append([]rfpipe.Option{quiet()}, test.options...)
		_, err := rfpipe.NewRunState(test.stream, []rfpipe.Transform{test.transform}, options...)
		assert.True(t, errors.Is(err, rfpipe.ErrConfig), "%s: %v", test.description, err)
	}

	// ring of exactly required size: 4 + 16 history
	_, err := rfpipe.NewRunState(stream,
		[]rfpipe.Transform{&mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4, NtPrepad: 8}}},
		quiet(), rfpipe.WithRingSize(20),
	)
	assert.NoError(t, err)

	_, err = rfpipe.NewRunState(stream,
		[]rfpipe.Transform{&mock.Transform{Hooks: mock.Hooks{ErrorOnSetStream: errTest}}},
		quiet(),
	)
	var te *rfpipe.TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "set stream", te.Op)
	assert.True(t, errors.Is(err, errTest))
}

func TestRunErrors(t *testing.T) {
	params := rfpipe.StreamParams{NFreq: 2, DtSample: 1, NtMaxWrite: 8}
	t.Run("incomplete", func(t *testing.T) {
		stream := &mock.Stream{StreamParams: params, Limit: 16, Incomplete: true}
		transform := &mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}}
		err := rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet())
		assert.True(t, errors.Is(err, rfpipe.ErrInvalidState))
		assert.Equal(t, 1, transform.Ended)
	})
	t.Run("process", func(t *testing.T) {
		stream := &mock.Stream{StreamParams: params, Limit: 16}
		transform := &mock.Transform{
			TransformParams: rfpipe.TransformParams{NtChunk: 4},
			ErrorOnCall:     errTest,
		}
		err := rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet())
		var te *rfpipe.TransformError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 0, te.Index)
		assert.Equal(t, "process chunk", te.Op)
		assert.True(t, errors.Is(err, errTest))
		assert.Equal(t, 1, transform.Ended)
	})
	t.Run("process and end", func(t *testing.T) {
		errEnd := errors.New("end error")
		stream := &mock.Stream{StreamParams: params, Limit: 16}
		transforms := []*mock.Transform{
			{TransformParams: rfpipe.TransformParams{NtChunk: 4}, Hooks: mock.Hooks{ErrorOnEnd: errEnd}},
			{TransformParams: rfpipe.TransformParams{NtChunk: 4}, ErrorOnCall: errTest, CallsBeforeError: 2},
			{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		}
		err := rfpipe.Run(stream, []rfpipe.Transform{transforms[0], transforms[1], transforms[2]}, quiet())
		var er *rfpipe.ErrorRun
		require.True(t, errors.As(err, &er))
		assert.True(t, errors.Is(err, errTest))
		assert.True(t, errors.Is(err, errEnd))
		var te *rfpipe.TransformError
		require.True(t, errors.As(er.ErrExec, &te))
		assert.Equal(t, 1, te.Index)
		for i, m := range transforms {
			assert.Equal(t, 1, m.Ended, "transform %d", i)
		}
		_, samples := transforms[2].Count()
		assert.Equal(t, int64(8), samples)
	})
	t.Run("start after another", func(t *testing.T) {
		stream := &mock.Stream{StreamParams: params, Limit: 16}
		transforms := []*mock.Transform{
			{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
			{TransformParams: rfpipe.TransformParams{NtChunk: 4}, Hooks: mock.Hooks{ErrorOnStart: errTest}},
		}
		err := rfpipe.Run(stream, []rfpipe.Transform{transforms[0], transforms[1]}, quiet())
		assert.True(t, errors.Is(err, errTest))
		assert.Equal(t, 1, transforms[0].Ended)
		assert.Equal(t, 0, transforms[1].Ended)
	})
	t.Run("start", func(t *testing.T) {
		stream := &mock.Stream{StreamParams: params, Limit: 16}
		transform := &mock.Transform{
			TransformParams: rfpipe.TransformParams{NtChunk: 4},
			Hooks:           mock.Hooks{ErrorOnStart: errTest},
		}
		err := rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet())
		assert.True(t, errors.Is(err, errTest))
		assert.Equal(t, 0, transform.Ended)
	})
	t.Run("end", func(t *testing.T) {
		stream := &mock.Stream{StreamParams: params, Limit: 16}
		transform := &mock.Transform{
			TransformParams: rfpipe.TransformParams{NtChunk: 4},
			Hooks:           mock.Hooks{ErrorOnEnd: errTest},
		}
		err := rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet())
		assert.True(t, errors.Is(err, errTest))
		assert.Equal(t, 1, transform.Ended)
	})
	t.Run("stream and flush", func(t *testing.T) {
		errFlush := errors.New("flush error")
		stream := &mock.Stream{StreamParams: params, Limit: 16, ErrorOnCall: errTest}
		transforms := []rfpipe.Transform{
			&mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}, Hooks: mock.Hooks{ErrorOnEnd: errFlush}},
			&mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}},
		}
		err := rfpipe.Run(stream, transforms, quiet())
		var er *rfpipe.ErrorRun
		require.True(t, errors.As(err, &er))
		assert.True(t, errors.Is(err, errTest))
		assert.True(t, errors.Is(err, errFlush))
		assert.Equal(t, 1, transforms[1].(*mock.Transform).Ended)
	})
}

// meteredTransform has its own type to get separate counters.
type meteredTransform struct {
	*mock.Transform
}

func TestMetric(t *testing.T) {
	transform := meteredTransform{&mock.Transform{TransformParams: rfpipe.TransformParams{NtChunk: 4}}}
	stream := &mock.Stream{
		StreamParams: rfpipe.StreamParams{NFreq: 1, DtSample: 0.25, NtMaxWrite: 8},
		Limit:        8,
	}
	require.NoError(t, rfpipe.Run(stream, []rfpipe.Transform{transform}, quiet(), rfpipe.WithMetric()))

	values := metric.Get(transform)
	assert.Equal(t, "2", values[metric.ChunkCounter])
	assert.Equal(t, "8", values[metric.SampleCounter])
	assert.Equal(t, "2s", values[metric.DurationCounter])
	assert.Equal(t, "1", values[metric.ComponentCounter])
}

func TestRunStateAccessors(t *testing.T) {
	rs, err := rfpipe.NewRunState(
		rfpipe.StreamParams{NFreq: 1, DtSample: 1, NtMaxWrite: 8},
		nil,
		quiet(),
		rfpipe.WithName("empty"),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, rs.ID())
	assert.Equal(t, 0, rs.NumTransforms())
	assert.Equal(t, int64(-1), rs.TransformPos(0))
	assert.Equal(t, int64(-1), rs.TransformPos(-1))
	require.NoError(t, rs.StartSubstream(5))
	assert.Equal(t, 5.0, rs.SubstreamStartTime())
	write(t, rs, 8)
	require.NoError(t, rs.EndSubstream())
	assert.Equal(t, int64(8), rs.StreamPos())
	assert.Equal(t, 1, rs.Substream())
}
