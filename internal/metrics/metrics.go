package metrics

import (
	"math"

	"gym-telemetry-backend/internal/model"
)

// Tuning constants for the tempo/power/energy model.
const (
	KoefPower            = 120.0
	DegreePower          = 0.13
	DefaultBlinkInterval = 500.0
	TempoBorderPercent   = 0.3
)

// IsSynced reports whether a hit at timeMs lands within the tolerance window
// around the nearest blink boundary. The nearest multiple is picked with
// round-half-to-even, so a hit exactly halfway between two boundaries rounds
// toward the even multiple.
func IsSynced(timeMs int, blinkInterval float64) bool {
	if timeMs < 0 || blinkInterval <= 0 {
		return false
	}
	k := math.RoundToEven(float64(timeMs) / blinkInterval)
	nearest := k * blinkInterval
	return math.Abs(float64(timeMs)-nearest) <= blinkInterval*TempoBorderPercent
}

// ComputeSprintMetrics derives tempo, power and energy from an accumulated hit
// buffer. Degenerate input (no hits, zero count) yields a zero result rather
// than an error; a sprint may legitimately end without a single recorded hit.
// Outputs are rounded to two decimals, ready to persist.
func ComputeSprintMetrics(hits []model.Hit, blinkInterval float64, hitCount int) model.SprintResult {
	if len(hits) == 0 || hitCount == 0 {
		return model.SprintResult{}
	}

	maxPunch := hits[0].MaxAccel
	sumPunches := 0.0
	for _, h := range hits {
		if h.MaxAccel > maxPunch {
			maxPunch = h.MaxAccel
		}
		sumPunches += h.MaxAccel
	}
	averagePunch := sumPunches / float64(hitCount)

	power := 0.0
	if maxPunch > 0 {
		power = averagePunch / maxPunch * KoefPower
	}
	if power < 0 {
		// Negative acceleration sums would make the fractional power below NaN.
		power = 0
	}

	tempo := 0.0
	if blinkInterval > 0 {
		syncedHits := 0
		for _, h := range hits {
			if IsSynced(h.TimeMs, blinkInterval) {
				syncedHits++
			}
		}
		tempo = float64(syncedHits) / float64(hitCount) * 100
	}

	energy := tempo * math.Pow(power/KoefPower, DegreePower)

	return model.SprintResult{
		Tempo:  Round2(tempo),
		Power:  Round2(power),
		Energy: Round2(energy),
	}
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
