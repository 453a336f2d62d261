package utils

import (
	"math"
	"math/rand"
	"time"
)

// sampleGamma returns a sample from the Gamma(shape, scale) distribution using
// the Marsaglia-Tsang squeeze method. shape must be >= 1.
func sampleGamma(shape, scale float64) float64 {
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rand.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		x2 := x * x
		u := rand.Float64()
		if u < 1.0-0.0331*(x2*x2) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x2+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// humanMultiplier draws from a Gamma(4, 0.25) distribution with mean 1.
// Right-skewed like empirical human reaction times; clamped to [0.4, 2.5].
func humanMultiplier() float64 {
	const shape = 4.0
	const scale = 0.25
	multiplier := sampleGamma(shape, scale)
	if multiplier < 0.4 {
		multiplier = 0.4
	}
	if multiplier > 2.5 {
		multiplier = 2.5
	}
	return multiplier
}

// Sleep pauses for a humanized duration centred on the requested millisecond
// value.
func Sleep(milliseconds int) {
	time.Sleep(time.Duration(float64(milliseconds)*humanMultiplier()) * time.Millisecond)
}

// Humanize scales d by the same right-skewed multiplier Sleep uses, for
// callers that need the jittered duration in a select rather than a blocking
// sleep.
func Humanize(d time.Duration) time.Duration {
	return time.Duration(float64(d) * humanMultiplier())
}

// RandDuration returns a uniformly random duration in [min, max].
func RandDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// TypingDelay returns the pause to insert after typing the given character at
// position i of a message. Base cadence is 40-160 ms per key with longer
// dwells after punctuation and word breaks, plus an occasional hesitation,
// so injected chat does not present as a programmatic burst.
func TypingDelay(ch rune, i int) time.Duration {
	var d time.Duration
	switch {
	case i%15 == 14:
		d = RandDuration(100*time.Millisecond, 300*time.Millisecond)
	case ch == '.' || ch == ',' || ch == '!' || ch == '?':
		d = RandDuration(150*time.Millisecond, 300*time.Millisecond)
	case ch == ' ':
		d = RandDuration(80*time.Millisecond, 150*time.Millisecond)
	default:
		d = RandDuration(40*time.Millisecond, 160*time.Millisecond)
	}
	// Occasional longer hesitation.
	if rand.Float64() < 0.1 {
		d += RandDuration(100*time.Millisecond, 300*time.Millisecond)
	}
	return d
}
