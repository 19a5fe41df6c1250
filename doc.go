/*
Package rfpipe runs chains of transforms over radio intensity streams.

Concept

A stream produces an unbounded sequence of samples. Every sample is a
column of NFreq frequency channels, each with an intensity and a weight.
Zero weight means the value is masked. The stream is split into substreams,
contiguous runs of data with their own start time.

Samples are fed through an ordered chain of transforms:

    Stream - the origin of samples, drives the run;
    Transform 0 ... Transform n-1 - process samples in place;

Every transform declares its own sizes:

    NtChunk - number of samples consumed per call;
    NtPrepad - number of its own output samples preceding the chunk;
    NtPostpad - number of look-ahead samples following the chunk.

Transform i only sees data already processed by transforms 0 ... i-1,
including the look-ahead. The chunk part of the window may be modified in
place and the next transform sees the modified data.

Run state

RunState owns the main buffer, a ring.Buffer sized from stream and
transform params, and one prepad cache per transform. The stream body
drives it:

    rs.StartSubstream(t0)
    w, err := rs.SetupWrite(nt, false)
    // fill w
    err = rs.FinalizeWrite(nt)
    ...
    rs.EndSubstream()

FinalizeWrite runs every transform that has enough data, in order.
EndSubstream pads the stream with zero-weight samples until all transforms
consumed the real ones. Windows handed out by RunState are contiguous
views into the buffers and are valid until the next call.

RunState follows a strict state machine, see internal/state package. Every
error is fatal: once a call fails, all further calls return the same error.

Run

Run is the single entry point for most uses:

    stream, err := noise.New(nfreq, ntChunk, ntTot, 400, 800, 1e-3, 1)
    detrender, err := detrend.New(1024)
    err = rfpipe.Run(stream, []rfpipe.Transform{detrender},
        rfpipe.WithMetric(),
    )

Metrics

WithMetric enables counters for every transform type: number of chunks and
samples, latency of the latest chunk and duration of processed signal. They
are published with expvar and can be exported to prometheus, see metric
package.
*/
package rfpipe
