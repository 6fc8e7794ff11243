package dsp

// Peak is a (freq_bin, time_frame) cell whose value equals the maximum over
// its neighborhood (ties with a neighbor included) and clears the amplitude
// floor (spec.md §3/§4.3).
type Peak struct {
	FreqBin   int
	TimeFrame int
}

// offset is a kernel neighbor displacement.
type offset struct{ di, dj int }

// diamondKernel builds the L1-ball of radius n: the set of offsets
// reachable by dilating a single center pixel n times with a 3x3 cross
// structuring element (spec.md §4.3 step 1).
func diamondKernel(n int) []offset {
	var offsets []offset
	for di := -n; di <= n; di++ {
		maxDj := n - abs(di)
		for dj := -maxDj; dj <= maxDj; dj++ {
			offsets = append(offsets, offset{di, dj})
		}
	}
	return offsets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PickPeaks finds 2-D local maxima of spec over the (2*neighborhoodSize+1)
// diamond kernel, subject to an amplitude floor (spec.md §4.3). Output is
// ordered row-major: freq_bin ascending, then time_frame ascending.
func PickPeaks(spec *Spectrogram, neighborhoodSize int, ampMin float32) []Peak {
	if spec == nil || spec.Freqs == 0 || spec.Frames == 0 {
		return nil
	}

	kernel := diamondKernel(neighborhoodSize)
	freqs, frames := spec.Freqs, spec.Frames

	background := make([][]bool, freqs)
	localMax := make([][]bool, freqs)
	for i := 0; i < freqs; i++ {
		background[i] = make([]bool, frames)
		localMax[i] = make([]bool, frames)
		for j := 0; j < frames; j++ {
			v := spec.Data[i][j]
			background[i][j] = v == 0
			localMax[i][j] = v == greyDilate(spec, kernel, i, j)
		}
	}

	var peaks []Peak
	for i := 0; i < freqs; i++ {
		for j := 0; j < frames; j++ {
			if !localMax[i][j] {
				continue
			}
			if erodedBackground(background, kernel, i, j, freqs, frames) {
				continue
			}
			if spec.Data[i][j] > float64(ampMin) {
				peaks = append(peaks, Peak{FreqBin: i, TimeFrame: j})
			}
		}
	}

	return peaks
}

// greyDilate computes the per-cell maximum over the kernel neighborhood.
// Out-of-range neighbors are skipped: they don't restrict a max operation,
// matching the default "don't affect the result" border behavior of
// OpenCV's dilate and SciPy's maximum_filter.
func greyDilate(spec *Spectrogram, kernel []offset, i, j int) float64 {
	maxV := spec.Data[i][j]
	for _, o := range kernel {
		ni, nj := i+o.di, j+o.dj
		if ni < 0 || ni >= spec.Freqs || nj < 0 || nj >= spec.Frames {
			continue
		}
		if v := spec.Data[ni][nj]; v > maxV {
			maxV = v
		}
	}
	return maxV
}

// erodedBackground computes one cell of binary_erode(background, kernel).
// Out-of-range neighbors are treated as background (true): erosion is an
// AND over the neighborhood, so a non-restricting border must count as
// true, matching SciPy's binary_erosion(..., border_value=1) convention
// used by the reference peak-picking algorithm.
func erodedBackground(background [][]bool, kernel []offset, i, j, freqs, frames int) bool {
	for _, o := range kernel {
		ni, nj := i+o.di, j+o.dj
		if ni < 0 || ni >= freqs || nj < 0 || nj >= frames {
			continue
		}
		if !background[ni][nj] {
			return false
		}
	}
	return true
}
