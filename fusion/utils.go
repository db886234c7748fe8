package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a position in room coordinates (meters).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// ClampToRoom keeps p inside [0, size]^2.
func (p Point) ClampToRoom(size float64) Point {
	return Point{X: Clamp(p.X, 0, size), Y: Clamp(p.Y, 0, size)}
}

// Triple carries one value per anchor, keyed {A1, A2, A3} on the wire.
type Triple struct {
	A1 float64 `json:"A1"`
	A2 float64 `json:"A2"`
	A3 float64 `json:"A3"`
}

func (t Triple) Get(id AnchorID) float64 {
	switch id {
	case A1:
		return t.A1
	case A2:
		return t.A2
	case A3:
		return t.A3
	}
	return 0
}

func (t *Triple) Set(id AnchorID, v float64) {
	switch id {
	case A1:
		t.A1 = v
	case A2:
		t.A2 = v
	case A3:
		t.A3 = v
	}
}

// Map applies f to each component.
func (t Triple) Map(f func(float64) float64) Triple {
	return Triple{A1: f(t.A1), A2: f(t.A2), A3: f(t.A3)}
}

// EuclideanDistances returns the true distance from p to each anchor.
func EuclideanDistances(p Point, calib Calibration) Triple {
	var out Triple
	for _, e := range calib.Entries() {
		out.Set(e.AnchorID, p.Dist(e.Position()))
	}
	return out
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}

// pinv computes the Moore-Penrose pseudo-inverse via SVD.
func pinv(a mat.Matrix) (*mat.Dense, bool) {
	r, c := a.Dims()

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, false
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	maxS := 0.0
	if len(s) > 0 {
		maxS = s[0]
	}
	tol := svdEps * float64(max(r, c)) * maxS

	sigInv := mat.NewDense(len(s), len(s), nil)
	rank := 0
	for i, val := range s {
		if val > tol {
			sigInv.Set(i, i, 1.0/val)
			rank++
		}
	}
	if rank == 0 {
		return nil, false
	}

	// V * Sigma^+ * U^T
	var temp, res mat.Dense
	temp.Mul(&v, sigInv)
	res.Mul(&temp, u.T())
	return &res, true
}
