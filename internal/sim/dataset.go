package sim

import (
	"math"
	"math/rand"
)

// coulombConst is the Coulomb constant in N·m²/C².
const coulombConst = 8.9875517923e9

// minDistanceSq guards against the singularity at a charge's own position.
// Contributions from closer than this are skipped.
const minDistanceSq = 1e-12

// Vec3 is a three-component vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Charge is a point charge.
type Charge struct {
	Pos Vec3 `json:"pos"`
	// Magnitude is the charge in coulombs.
	Magnitude float64 `json:"magnitude"`
}

// Dataset is the input to a field computation: the charge configuration and
// the sample points at which the field is evaluated.
type Dataset struct {
	Charges []Charge `json:"charges"`
	Points  []Vec3   `json:"points"`
}

// FieldAt computes the electrostatic field at point p by superposition over
// all charges. This is the per-point kernel every device runs; it is exported
// so tests can compare a distributed run against a sequential reference.
func FieldAt(charges []Charge, p Vec3) Vec3 {
	var e Vec3
	for _, c := range charges {
		dx := p.X - c.Pos.X
		dy := p.Y - c.Pos.Y
		dz := p.Z - c.Pos.Z
		r2 := dx*dx + dy*dy + dz*dz
		if r2 < minDistanceSq {
			continue
		}
		// k*q/r^3 gives the scale for the displacement vector.
		scale := coulombConst * c.Magnitude / (r2 * math.Sqrt(r2))
		e.X += dx * scale
		e.Y += dy * scale
		e.Z += dz * scale
	}
	return e
}

// RandomDataset generates a reproducible dataset: charges of ±1 nC scattered
// in the unit cube and field points in a surrounding shell.
func RandomDataset(nCharges, nPoints int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))

	charges := make([]Charge, nCharges)
	for i := range charges {
		sign := 1.0
		if rng.Intn(2) == 0 {
			sign = -1.0
		}
		charges[i] = Charge{
			Pos: Vec3{
				X: rng.Float64()*2 - 1,
				Y: rng.Float64()*2 - 1,
				Z: rng.Float64()*2 - 1,
			},
			Magnitude: sign * 1e-9,
		}
	}

	points := make([]Vec3, nPoints)
	for i := range points {
		points[i] = Vec3{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*4 - 2,
			Z: rng.Float64()*4 - 2,
		}
	}

	return &Dataset{Charges: charges, Points: points}
}
