// Package fft implements a radix-2 Cooley-Tukey forward/inverse Discrete
// Fourier Transform with a reusable plan, DC-centering shift, and power
// spectrum helpers, per spec §4.2.
//
// The transform is hand-rolled rather than delegated to a library FFT
// (gonum.org/v1/gonum/dsp/fourier, github.com/MeKo-Christian/algo-fft)
// because the spec requires an explicit bit-reversal table and a
// precomputed twiddle table exposed as reusable plan state — see
// DESIGN.md.
package fft

import (
	"fmt"
	"math"

	"iqlab/internal/iqerr"
)

const maxSize = 1 << 20

// Direction selects the transform direction a Plan was built for.
type Direction int

const (
	// Forward computes X[k] = sum x[n] * exp(-2pi*j*k*n/N), no normalization.
	Forward Direction = iota
	// Inverse computes x[n] = (1/N) * sum X[k] * exp(+2pi*j*k*n/N).
	Inverse
)

// Plan is a reusable radix-2 FFT plan: an immutable bit-reversal table and
// twiddle-factor table for one (N, Direction) pair. Multiple transforms
// may share one plan in a single-threaded context, per spec §5.
type Plan struct {
	N        int
	Dir      Direction
	bitrev   []int
	twiddles []complex128 // length N/2
	stages   int
}

// NewPlan builds a Plan for N a power of two in [1, 2^20].
func NewPlan(n int, dir Direction) (*Plan, error) {
	if n <= 0 || n > maxSize || n&(n-1) != 0 {
		return nil, iqerr.New(iqerr.InvalidSize, "fft", fmt.Errorf("N=%d is not a power of two in [1, %d]", n, maxSize))
	}
	stages := bitLen(n) - 1
	bitrev := make([]int, n)
	for i := 0; i < n; i++ {
		bitrev[i] = reverseBits(i, stages)
	}

	var twiddles []complex128
	if n > 1 {
		twiddles = make([]complex128, n/2)
		sign := -1.0
		if dir == Inverse {
			sign = 1.0
		}
		for k := 0; k < n/2; k++ {
			theta := sign * 2 * math.Pi * float64(k) / float64(n)
			twiddles[k] = complex(math.Cos(theta), math.Sin(theta))
		}
	}

	return &Plan{N: n, Dir: dir, bitrev: bitrev, twiddles: twiddles, stages: stages}, nil
}

// Execute computes the transform of in into out, both length N. in and out
// may alias the same slice. Inverse plans apply the 1/N normalization;
// forward plans do not, per spec §4.2.
func (p *Plan) Execute(in, out []complex128) error {
	n := p.N
	if len(in) != n || len(out) != n {
		return iqerr.New(iqerr.InvalidSize, "fft", fmt.Errorf("buffer length must equal N=%d", n))
	}

	if &in[0] == &out[0] {
		// In-place: permute via a scratch copy to avoid clobbering.
		scratch := make([]complex128, n)
		copy(scratch, in)
		for i := 0; i < n; i++ {
			out[p.bitrev[i]] = scratch[i]
		}
	} else {
		for i := 0; i < n; i++ {
			out[p.bitrev[i]] = in[i]
		}
	}

	for s := 1; s <= p.stages; s++ {
		m := 1 << s
		half := m / 2
		stride := n / m
		for start := 0; start < n; start += m {
			for k := 0; k < half; k++ {
				w := p.twiddles[k*stride]
				t := w * out[start+k+half]
				u := out[start+k]
				out[start+k] = u + t
				out[start+k+half] = u - t
			}
		}
	}

	if p.Dir == Inverse {
		invN := complex(1.0/float64(n), 0)
		for i := range out {
			out[i] *= invN
		}
	}

	for _, v := range out {
		if !finiteComplex(v) {
			return iqerr.New(iqerr.InternalError, "fft", fmt.Errorf("non-finite output bin"))
		}
	}
	return nil
}

// PowerSpectrum computes |X[k]|^2 for each bin, optionally divided by N
// (average power per sample per bin), per spec §4.2.
func PowerSpectrum(spectrum []complex128, normalize bool) []float64 {
	n := len(spectrum)
	out := make([]float64, n)
	var invN float64
	if normalize && n > 0 {
		invN = 1.0 / float64(n)
	}
	for i, v := range spectrum {
		p := real(v)*real(v) + imag(v)*imag(v)
		if normalize {
			p *= invN
		}
		out[i] = p
	}
	return out
}

// Shift reorders a length-N buffer so that the zero-frequency component
// (index 0) moves to index N/2, per spec §4.2. N must be even. Applying
// Shift twice is the identity.
func Shift[T any](buf []T, n int) error {
	if n%2 != 0 {
		return iqerr.New(iqerr.InvalidSize, "fft", fmt.Errorf("shift requires even N, got %d", n))
	}
	if len(buf) != n {
		return iqerr.New(iqerr.InvalidSize, "fft", fmt.Errorf("buffer length must equal N=%d", n))
	}
	half := n / 2
	tmp := make([]T, half)
	copy(tmp, buf[:half])
	copy(buf[:half], buf[half:])
	copy(buf[half:], tmp)
	return nil
}

// Magnitude returns |z| for a complex bin value.
func Magnitude(z complex128) float64 {
	return math.Hypot(real(z), imag(z))
}

// Phase returns the phase angle in radians for a complex bin value.
func Phase(z complex128) float64 {
	return math.Atan2(imag(z), real(z))
}

func finiteComplex(z complex128) bool {
	return !math.IsInf(real(z), 0) && !math.IsNaN(real(z)) &&
		!math.IsInf(imag(z), 0) && !math.IsNaN(imag(z))
}

func bitLen(n int) int {
	l := 0
	for n > 1 {
		n >>= 1
		l++
	}
	return l + 1
}

func reverseBits(x, bits int) int {
	r := 0
	for i := 0; i < bits; i++ {
		r = (r << 1) | (x & 1)
		x >>= 1
	}
	return r
}
