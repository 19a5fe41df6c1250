// Package ring provides a windowed ring buffer for two-dimensional
// (frequency × time) intensity/weight planes.
//
// Every window handed out by the buffer is a single contiguous span of
// memory, even when the requested range crosses the point where the
// buffer laps its backing storage. The buffer pays for it with a guard
// region of ntRing extra columns: when an append would run off the end of
// the arena, the trailing ntRing committed columns are mirrored into the
// guard region at the front and writing continues right after them.
//
// Physical layout of one row, ntTot = ntRing + ntContig columns:
//
//	| guard (ntRing) |             arena (ntContig)              |
//	                 ^ first append after a lap goes here
//
// Positions are absolute sample indexes since the stream start. Positions
// before zero read as zeros.
package ring

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when a window is requested outside of the
	// retained region.
	ErrOutOfRange = errors.New("window out of range")
	// ErrTooLarge is returned when an append exceeds the contiguous size.
	ErrTooLarge = errors.New("append too large")
	// ErrPending is returned when an append is set up twice or committed
	// without being set up.
	ErrPending = errors.New("append pending mismatch")
)

// Window is a contiguous view of NFreq rows by Nt samples. Element (f, t)
// is at index f*Stride+t of Intensity and Weights. Windows are borrowed:
// they are valid until the next call that mutates the buffer.
type Window struct {
	NFreq     int
	Nt        int
	Stride    int
	Intensity []float32
	Weights   []float32
}

// Row returns intensity and weights of the f-th row.
func (w Window) Row(f int) ([]float32, []float32) {
	if w.Nt == 0 {
		return nil, nil
	}
	i := f * w.Stride
	return w.Intensity[i : i+w.Nt], w.Weights[i : i+w.Nt]
}

// CopyFrom copies the contents of src into w. Both windows must have the
// same shape.
func (w Window) CopyFrom(src Window) {
	for f := 0; f < w.NFreq; f++ {
		di, dw := w.Row(f)
		si, sw := src.Row(f)
		copy(di, si)
		copy(dw, sw)
	}
}

// Buffer is a windowed ring buffer. It is not safe for concurrent use.
type Buffer struct {
	nfreq    int
	ntContig int
	ntRing   int
	ntTot    int

	intensity []float32
	weights   []float32

	// ipos is the absolute position of the commit frontier,
	// end is its physical column.
	ipos int64
	end  int

	// lapStart is the position at which the current lap started.
	lapStart int64

	appending bool
	pending   int
}

// New allocates a buffer of nfreq rows that hands out appends of up to
// ntContig samples and retains ntRing samples of history.
func New(nfreq, ntContig, ntRing int) (*Buffer, error) {
	if nfreq <= 0 || ntContig <= 0 || ntRing < 0 {
		return nil, fmt.Errorf("ring: invalid size nfreq=%d nt_contig=%d nt_ring=%d", nfreq, ntContig, ntRing)
	}
	ntTot := ntContig + ntRing
	b := Buffer{
		nfreq:     nfreq,
		ntContig:  ntContig,
		ntRing:    ntRing,
		ntTot:     ntTot,
		intensity: make([]float32, nfreq*ntTot),
		weights:   make([]float32, nfreq*ntTot),
	}
	b.Reset()
	return &b, nil
}

// Reset clears the storage and rewinds the buffer to position zero.
func (b *Buffer) Reset() {
	for i := range b.intensity {
		b.intensity[i] = 0
		b.weights[i] = 0
	}
	b.ipos = 0
	b.end = b.ntRing
	b.lapStart = 0
	b.appending = false
	b.pending = 0
}

// Pos returns the commit frontier.
func (b *Buffer) Pos() int64 {
	return b.ipos
}

// NFreq returns number of rows.
func (b *Buffer) NFreq() int {
	return b.nfreq
}

// NtContig returns the maximum append size.
func (b *Buffer) NtContig() int {
	return b.ntContig
}

// NtRing returns the retained history size.
func (b *Buffer) NtRing() int {
	return b.ntRing
}

// SetupWrite returns a view of [it0, it0+nt). The range must start no
// earlier than Pos()-NtRing() and end no later than the frontier, or the
// end of the pending append if there is one.
func (b *Buffer) SetupWrite(it0 int64, nt int) (Window, error) {
	if err := b.checkRange(it0, nt); err != nil {
		return Window{}, err
	}
	return b.window(b.column(it0), nt), nil
}

// FinalizeWrite commits a view returned by SetupWrite. Windows are views of
// the live storage, so the commit only validates the range.
func (b *Buffer) FinalizeWrite(it0 int64, nt int) error {
	return b.checkRange(it0, nt)
}

// SetupAppend returns a view of nt new samples at the frontier. If zero is
// true, the view is zero-filled, otherwise it holds stale data.
func (b *Buffer) SetupAppend(nt int, zero bool) (Window, error) {
	if b.appending {
		return Window{}, fmt.Errorf("%w: setup append of %d with %d pending", ErrPending, nt, b.pending)
	}
	if nt < 0 || nt > b.ntContig {
		return Window{}, fmt.Errorf("%w: %d samples, max %d", ErrTooLarge, nt, b.ntContig)
	}
	if b.end+nt > b.ntTot {
		b.wrap()
	}
	w := b.window(b.end, nt)
	if zero {
		for f := 0; f < b.nfreq; f++ {
			i, wt := w.Row(f)
			for t := range i {
				i[t] = 0
				wt[t] = 0
			}
		}
	}
	b.appending = true
	b.pending = nt
	return w, nil
}

// FinalizeAppend commits nt samples set up by SetupAppend and advances the
// frontier.
func (b *Buffer) FinalizeAppend(nt int) error {
	if !b.appending || nt != b.pending {
		return fmt.Errorf("%w: finalize append of %d with %d pending", ErrPending, nt, b.pending)
	}
	b.end += nt
	b.ipos += int64(nt)
	b.appending = false
	b.pending = 0
	return nil
}

// AppendZeros appends nt samples of zero intensity and weight. Unlike
// SetupAppend, nt is not limited by NtContig().
func (b *Buffer) AppendZeros(nt int) error {
	for nt > 0 {
		n := nt
		if n > b.ntContig {
			n = b.ntContig
		}
		if _, err := b.SetupAppend(n, true); err != nil {
			return err
		}
		if err := b.FinalizeAppend(n); err != nil {
			return err
		}
		nt -= n
	}
	return nil
}

// CheckIntegrity validates internal bookkeeping.
func (b *Buffer) CheckIntegrity() error {
	switch {
	case len(b.intensity) != b.nfreq*b.ntTot || len(b.weights) != len(b.intensity):
		return fmt.Errorf("ring: storage size %d/%d, expected %d", len(b.intensity), len(b.weights), b.nfreq*b.ntTot)
	case b.ipos < 0:
		return fmt.Errorf("ring: negative position %d", b.ipos)
	case b.end < b.ntRing || b.end > b.ntTot:
		return fmt.Errorf("ring: frontier column %d outside [%d, %d]", b.end, b.ntRing, b.ntTot)
	case int64(b.end-b.ntRing) != b.ipos-b.lapStart:
		return fmt.Errorf("ring: frontier column %d does not match %d samples since lap at %d", b.end, b.ipos-b.lapStart, b.lapStart)
	case !b.appending && b.pending != 0:
		return fmt.Errorf("ring: %d samples pending without append", b.pending)
	case b.appending && b.end+b.pending > b.ntTot:
		return fmt.Errorf("ring: pending append of %d overruns arena at column %d", b.pending, b.end)
	}
	if b.lapStart == 0 {
		// guard region holds history before the first sample
		for f := 0; f < b.nfreq; f++ {
			row := f * b.ntTot
			for i := row; i < row+b.ntRing; i++ {
				if b.intensity[i] != 0 || b.weights[i] != 0 {
					return fmt.Errorf("ring: history before start is not zero at row %d column %d", f, i-row)
				}
			}
		}
	}
	return nil
}

// wrap mirrors the trailing ntRing committed columns into the guard region
// and moves the frontier right after them.
func (b *Buffer) wrap() {
	src := b.end - b.ntRing
	if src > 0 {
		for f := 0; f < b.nfreq; f++ {
			row := f * b.ntTot
			copy(b.intensity[row:row+b.ntRing], b.intensity[row+src:row+b.end])
			copy(b.weights[row:row+b.ntRing], b.weights[row+src:row+b.end])
		}
	}
	b.end = b.ntRing
	b.lapStart = b.ipos
}

func (b *Buffer) checkRange(it0 int64, nt int) error {
	hi := b.ipos
	if b.appending {
		hi += int64(b.pending)
	}
	if nt <= 0 || it0 < b.ipos-int64(b.ntRing) || it0+int64(nt) > hi {
		return fmt.Errorf("%w: [%d, %d) with frontier %d, retained %d", ErrOutOfRange, it0, it0+int64(nt), b.ipos, b.ntRing)
	}
	return nil
}

// column returns the physical column of a retained position.
func (b *Buffer) column(it int64) int {
	return b.end - int(b.ipos-it)
}

func (b *Buffer) window(col, nt int) Window {
	if nt == 0 {
		return Window{NFreq: b.nfreq, Stride: b.ntTot}
	}
	n := (b.nfreq-1)*b.ntTot + nt
	return Window{
		NFreq:     b.nfreq,
		Nt:        nt,
		Stride:    b.ntTot,
		Intensity: b.intensity[col : col+n : col+n],
		Weights:   b.weights[col : col+n : col+n],
	}
}
