package emission

import "github.com/RyanBlaney/sonido-follow/config"

// PitchDistance is the cyclic distance between two pitch class symbols (0..6)
func PitchDistance(a, b Symbol) int {
	d := (int(a) - int(b)) % 12
	if d < 0 {
		d = -d
	}
	return min(d, 12-d)
}

// Weight is the mixture weight of candidate symbol k when the score expects
// symbol expected. Detection errors land on semitones and on harmonically
// related pitch classes far more often than on unrelated ones.
func Weight(k, expected Symbol, cfg config.EmissionConfig) float64 {
	if expected == Silence {
		if k == Silence {
			return 1 - cfg.PitchError
		}
		return 0
	}
	if k == Silence {
		return 0
	}

	switch PitchDistance(k, expected) {
	case 0:
		return 1 - cfg.PitchError
	case 1:
		return cfg.SemitoneWeight
	case 2:
		return cfg.WholeToneWeight * cfg.PitchError
	case 5: // fourth or fifth
		return cfg.FourthWeight * cfg.PitchError
	default:
		return 0
	}
}

// WeightTable precomputes Weight for every (expected, candidate) pair
func WeightTable(cfg config.EmissionConfig) [NumSymbols][NumSymbols]float64 {
	var table [NumSymbols][NumSymbols]float64
	for expected := range table {
		for k := range table[expected] {
			table[expected][k] = Weight(Symbol(k), Symbol(expected), cfg)
		}
	}
	return table
}
