package compare

// Band is a coarse grade of a similarity percent, used to colour scores.
type Band string

const (
	BandHigh Band = "high" // above 80%
	BandMid  Band = "mid"  // above 60%
	BandLow  Band = "low"
)

// BandOf grades percent.
func BandOf(percent float64) Band {
	switch {
	case percent > 80:
		return BandHigh
	case percent > 60:
		return BandMid
	default:
		return BandLow
	}
}
