// Package framer groups a stream of complex samples into overlapping
// FFT-sized frames at a configurable hop, per spec §4.1.
package framer

import (
	"fmt"

	"iqlab/internal/iqerr"
	"iqlab/internal/iqsample"
	"iqlab/internal/iqsource"
)

// Frame is one windowed, contiguous block of N complex samples.
type Frame struct {
	Index       int64
	StartSample int64
	Data        []complex128
}

// StartTime returns the frame's wall-clock start offset given a sample
// rate, per spec §3 "Frame".
func (f *Frame) StartTime(sampleRateHz float64) float64 {
	return float64(f.StartSample) / sampleRateHz
}

// Framer pulls from a Source and yields overlapping frames. It owns a
// rolling copy of the current frame and previous hop, per spec §3
// ownership summary. No windowing is applied, per spec §4.1.
type Framer struct {
	src iqsource.Source
	n   int
	hop int

	buf      []complex128 // rolling window, length n
	filled   int          // valid samples currently in buf
	nextIdx  int64
	nextStart int64
	exhausted bool
}

// New constructs a Framer. N must be a positive power of two, H must
// satisfy 1 <= H <= N, or InvalidConfig is returned.
func New(src iqsource.Source, n, hop int) (*Framer, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, iqerr.New(iqerr.InvalidConfig, "framer", fmt.Errorf("fft size %d is not a positive power of two", n))
	}
	if hop < 1 || hop > n {
		return nil, iqerr.New(iqerr.InvalidConfig, "framer", fmt.Errorf("hop %d out of range [1, %d]", hop, n))
	}
	return &Framer{src: src, n: n, hop: hop, buf: make([]complex128, n)}, nil
}

func toComplex(samples []iqsample.Sample, dst []complex128) {
	for i, s := range samples {
		dst[i] = complex(s.I, s.Q)
	}
}

// Next returns the next frame, or ok=false when the stream is exhausted.
// Per spec §4.1, fewer than N samples available at the start produces no
// frames rather than an error.
func (f *Framer) Next() (*Frame, bool, error) {
	if f.exhausted {
		return nil, false, nil
	}

	if f.filled == 0 {
		// First fill: need a full N samples.
		samples, err := readExactly(f.src, f.n)
		if err != nil {
			return nil, false, err
		}
		if len(samples) < f.n {
			f.exhausted = true
			return nil, false, nil
		}
		toComplex(samples, f.buf)
		f.filled = f.n
	} else {
		// Slide the window by hop: drop the oldest `hop` samples, pull
		// `hop` new ones into the tail.
		samples, err := readExactly(f.src, f.hop)
		if err != nil {
			return nil, false, err
		}
		if len(samples) < f.hop {
			f.exhausted = true
			return nil, false, nil
		}
		copy(f.buf, f.buf[f.hop:])
		toComplex(samples, f.buf[f.n-f.hop:])
		f.nextStart += int64(f.hop)
	}

	out := make([]complex128, f.n)
	copy(out, f.buf)
	frame := &Frame{Index: f.nextIdx, StartSample: f.nextStart, Data: out}
	f.nextIdx++
	return frame, true, nil
}

// readExactly pulls from src until n samples are collected or the source
// is exhausted, returning fewer than n only at end-of-stream.
func readExactly(src iqsource.Source, n int) ([]iqsample.Sample, error) {
	out := make([]iqsample.Sample, 0, n)
	for len(out) < n {
		chunk, err := src.ReadN(n - len(out))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Count returns the number of frames produced for M available samples,
// per spec §4.1's closed-form frame count.
func Count(m, n, hop int64) int64 {
	if m < n {
		return 0
	}
	return (m-n)/hop + 1
}
