// SPDX-License-Identifier: Apache-2.0

// Package risk computes the composite vulnerability risk score.
package risk

// Scoring weights. The score is a linear combination of four signals:
// CVSS base score, KEV membership, EPSS probability, and age in days
// since publication.
const (
	cvssWeight      = 0.4
	kevBonus        = 2.0
	epssWeight      = 5.0
	ageWeightPerDay = 0.01
	maxAgeDays      = 365
)

// Factors bundles the inputs to Score. A nil field means the signal is
// unknown and is treated as its neutral value (0 or false).
type Factors struct {
	CVSS    *float64 // CVSS base score, 0-10
	IsKEV   *bool    // present in the KEV catalog
	EPSS    *float64 // exploit probability, 0-1
	AgeDays *int     // days since publication
}

// Score computes the risk score. It is a total function: missing inputs
// never propagate as a missing result, and no error can occur.
//
//	Score({7.5, true, 0.8, 30}) = 3.0 + 2.0 + 4.0 + 0.3 = 9.3
func Score(f Factors) float64 {
	var cvss float64
	if f.CVSS != nil {
		cvss = clamp(*f.CVSS, 0, 10)
	}

	var kev float64
	if f.IsKEV != nil && *f.IsKEV {
		kev = kevBonus
	}

	var epss float64
	if f.EPSS != nil {
		epss = clamp(*f.EPSS, 0, 1)
	}

	var age float64
	if f.AgeDays != nil {
		age = float64(*f.AgeDays)
		if age > maxAgeDays {
			age = maxAgeDays
		}
		if age < 0 {
			age = 0
		}
	}

	return cvss*cvssWeight + kev + epss*epssWeight + age*ageWeightPerDay
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
