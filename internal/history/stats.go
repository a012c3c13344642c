package history

import (
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat/distuv"
)

// CriticalP is the significance level below which a test counts as failed.
const CriticalP = 0.01

// Stats summarises the values held in a set of entries.
//
// The three p-values come from the frequency (monobit) and runs tests over
// the concatenated 64-bit big-endian bit strings, and a chi-square
// uniformity test over the values scaled to [0, 1). A test passes when its
// p-value is strictly above CriticalP.
type Stats struct {
	Count            int     `json:"count"`
	Min              uint64  `json:"min,string"`
	Max              uint64  `json:"max,string"`
	Mean             float64 `json:"mean"`
	Std              float64 `json:"std"`
	OnesRatio        float64 `json:"ones_ratio"`
	MonobitPValue    float64 `json:"monobit_p_value"`
	RunsPValue       float64 `json:"runs_p_value"`
	UniformityPValue float64 `json:"uniformity_p_value"`
	PassesFrequency  bool    `json:"passes_frequency"`
	PassesRuns       bool    `json:"passes_runs"`
	PassesUniformity bool    `json:"passes_uniformity"`
	OverallRandom    bool    `json:"overall_random"`
}

// Summarize computes Stats for entries in the order given. An empty input
// yields the zero Stats.
func Summarize(entries []Entry) Stats {
	if len(entries) == 0 {
		return Stats{}
	}

	values := make([]uint64, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}

	s := Stats{Count: len(values), Min: math.MaxUint64}
	var m2 float64
	for i, v := range values {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		delta := float64(v) - s.Mean
		s.Mean += delta / float64(i+1)
		m2 += delta * (float64(v) - s.Mean)
	}
	s.Std = math.Sqrt(m2 / float64(len(values)))

	ones := 0
	for _, v := range values {
		ones += bits.OnesCount64(v)
	}
	s.OnesRatio = float64(ones) / float64(64*len(values))

	s.MonobitPValue = monobitP(values, ones)
	s.RunsPValue = runsP(values, ones)
	s.UniformityPValue = uniformityP(values, s.Max)

	s.PassesFrequency = s.MonobitPValue > CriticalP
	s.PassesRuns = s.RunsPValue > CriticalP
	s.PassesUniformity = s.UniformityPValue > CriticalP
	s.OverallRandom = s.PassesFrequency && s.PassesRuns && s.PassesUniformity
	return s
}

// twoTailed is the two-sided standard normal tail probability of z.
func twoTailed(z float64) float64 {
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

func monobitP(values []uint64, ones int) float64 {
	n := float64(64 * len(values))
	// S_n = ones - zeros = 2*ones - n
	return twoTailed((2*float64(ones) - n) / math.Sqrt(n))
}

// runsP counts runs of identical bits across the whole bit string. It
// returns 0 when the ones proportion fails the frequency pre-test.
func runsP(values []uint64, ones int) float64 {
	n := float64(64 * len(values))
	pi := float64(ones) / n
	if math.Abs(pi-0.5) >= 2/math.Sqrt(n) {
		return 0
	}

	runs := 1
	for i, v := range values {
		// adjacent pairs inside v, top bit excluded
		runs += bits.OnesCount64((v ^ v>>1) &^ (1 << 63))
		if i > 0 && values[i-1]&1 != v>>63 {
			runs++
		}
	}

	k := 2 * n * pi * (1 - pi)
	variance := k * (k - 1)
	if variance <= 0 {
		return 0
	}
	return twoTailed((float64(runs) - (k + 1)) / math.Sqrt(variance))
}

// uniformityP bins values scaled by max+1 into min(10, n/5) equal bins and
// returns the chi-square goodness-of-fit p-value against a flat histogram.
// Fewer than 10 values, or an all-zero input, yield 0.
func uniformityP(values []uint64, maxV uint64) float64 {
	if len(values) < 10 || maxV == 0 {
		return 0
	}

	nbins := min(10, len(values)/5)
	observed := make([]float64, nbins)
	scale := float64(maxV) + 1
	for _, v := range values {
		b := int(float64(v) * float64(nbins) / scale)
		observed[min(b, nbins-1)]++
	}

	expected := float64(len(values)) / float64(nbins)
	var chi float64
	for _, o := range observed {
		d := o - expected
		chi += d * d / expected
	}
	return distuv.ChiSquared{K: float64(nbins - 1)}.Survival(chi)
}
