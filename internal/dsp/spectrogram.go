// Package dsp implements the Spectrogram and PeakPicker stages of the
// fingerprinting pipeline: STFT with a Hann window and 50%-style overlap
// striding, followed by 2-D local-maximum peak extraction over the
// resulting dB-power matrix.
package dsp

import (
	"math"
	"math/cmplx"

	"github.com/maddyblue/go-dsp/fft"
	"github.com/pkg/errors"
)

// float32Epsilon matches the C++ reference's std::numeric_limits<float>::epsilon(),
// since spectrogram cells are nominally 32-bit floats even though this
// implementation carries them as float64 internally for precision.
const float32Epsilon = 1.1920929e-07

// Spectrogram is a dB-power matrix oriented [freq_bin][time_frame], as
// spec.md §3 requires: Data[freqBin] has length Frames.
type Spectrogram struct {
	Data   [][]float64
	Freqs  int
	Frames int
}

// At returns the dB value at (freqBin, timeFrame).
func (s *Spectrogram) At(freqBin, timeFrame int) float64 {
	return s.Data[freqBin][timeFrame]
}

func freqBins(windowSize int) int {
	if windowSize%2 == 0 {
		return windowSize/2 + 1
	}
	return (windowSize + 1) / 2
}

func hannWindow(windowSize int) []float64 {
	w := make([]float64, windowSize)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(windowSize-1)))
	}
	return w
}

// Compute runs the STFT pipeline of spec.md §4.2 over samples:
//
//  1. Stride samples into windowSize-by-frames blocks with the configured
//     overlap.
//  2. Apply a Hann window.
//  3. Detrend by adding the matrix's global mean to every cell — this is
//     the pinned "add-mean" semantics of spec.md §9, not a subtraction.
//  4. FFT each frame, take the one-sided power spectrum, fold/double the
//     non-DC/non-Nyquist bins, normalize to a power spectral density, and
//     log-compress to dB.
func Compute(samples []float32, windowSize int, overlapRatio float32, fs float32) (*Spectrogram, error) {
	if windowSize <= 1 {
		return nil, errors.Errorf("window size must be > 1, got %d", windowSize)
	}
	overlap := int(float64(windowSize) * float64(overlapRatio))
	hop := windowSize - overlap
	if hop <= 0 {
		return nil, errors.Errorf("overlap ratio %f leaves a non-positive hop for window size %d", overlapRatio, windowSize)
	}

	n := len(samples)
	if n <= overlap {
		return nil, errors.Errorf("not enough samples (%d) for window size %d with overlap %d", n, windowSize, overlap)
	}
	frames := (n - overlap) / hop
	if frames <= 0 {
		return nil, errors.Errorf("not enough samples (%d) to produce a single STFT frame", n)
	}

	window := hannWindow(windowSize)

	// Stride + window directly into [frame][window] rows, so each row can
	// be FFT'd in place: row j, column i holds x[j*hop+i] * w[i].
	rows := make([][]float64, frames)
	var sum float64
	for j := 0; j < frames; j++ {
		row := make([]float64, windowSize)
		base := j * hop
		for i := 0; i < windowSize; i++ {
			v := float64(samples[base+i]) * window[i]
			row[i] = v
			sum += v
		}
		rows[j] = row
	}

	mean := sum / float64(frames*windowSize)
	// Detrend: cell += mean, the pinned reference-design semantics.
	for j := range rows {
		for i := range rows[j] {
			rows[j][i] += mean
		}
	}

	windowPowerSum := 0.0
	for _, w := range window {
		windowPowerSum += w * w
	}
	normalizer := float64(fs) * windowPowerSum

	freqs := freqBins(windowSize)
	data := make([][]float64, freqs)
	for k := range data {
		data[k] = make([]float64, frames)
	}

	for j := 0; j < frames; j++ {
		spectrum := fft.FFTReal(rows[j])
		for k := 0; k < freqs; k++ {
			mag := cmplx.Abs(spectrum[k])
			power := mag * mag
			if k >= 1 && k <= freqs-2 {
				power *= 2
			}
			power /= normalizer
			if power < float32Epsilon {
				power = float32Epsilon
			}
			data[k][j] = 10 * math.Log10(power)
		}
	}

	return &Spectrogram{Data: data, Freqs: freqs, Frames: frames}, nil
}
