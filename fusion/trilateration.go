package fusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when the anchors or distances cannot determine a
// position (non-finite input, or every anchor at the same point).
var ErrDegenerate = errors.New("degenerate trilateration input")

// Estimator turns per-anchor distances into a room position. Simulated and
// live ticks go through the same interface.
type Estimator interface {
	Estimate(dist Triple, anchors Calibration) (Point, error)
}

// LeastSquares linearizes the three range circles against the first anchor
// and solves the resulting system with the pseudo-inverse, then refines the
// estimate by Gauss-Newton on sum((|P-a_i| - d_i)^2). The result is clamped
// to the room.
type LeastSquares struct {
	RoomSize float64
	// Iterations of Gauss-Newton refinement; 0 disables refinement.
	Iterations int
}

// NewLeastSquares returns an estimator with default refinement.
func NewLeastSquares(roomSize float64) *LeastSquares {
	return &LeastSquares{RoomSize: roomSize, Iterations: RefineIters}
}

func (e *LeastSquares) Estimate(dist Triple, anchors Calibration) (Point, error) {
	entries := anchors.Entries()
	d := [3]float64{dist.A1, dist.A2, dist.A3}
	for i := range d {
		if !finite(d[i]) || d[i] < 0 {
			return Point{}, errors.Wrapf(ErrDegenerate, "distance to %s is %v", entries[i].AnchorID, d[i])
		}
	}

	x1, y1 := entries[0].X, entries[0].Y
	A := mat.NewDense(2, 2, nil)
	b := mat.NewVecDense(2, nil)
	for i := 1; i < 3; i++ {
		xi, yi := entries[i].X, entries[i].Y
		A.Set(i-1, 0, 2*(xi-x1))
		A.Set(i-1, 1, 2*(yi-y1))
		b.SetVec(i-1, Pow2(d[0])-Pow2(d[i])-Pow2(x1)+Pow2(xi)-Pow2(y1)+Pow2(yi))
	}

	Ainv, ok := pinv(A)
	if !ok {
		return Point{}, errors.Wrap(ErrDegenerate, "anchors coincide")
	}
	var sol mat.VecDense
	sol.MulVec(Ainv, b)
	p := Point{X: sol.AtVec(0), Y: sol.AtVec(1)}

	if e.Iterations > 0 {
		p = e.refine(p, entries, d)
	}
	if !finite(p.X) || !finite(p.Y) {
		return Point{}, errors.Wrap(ErrDegenerate, "solution not finite")
	}
	if e.RoomSize > 0 {
		p = p.ClampToRoom(e.RoomSize)
	}
	return p, nil
}

func (e *LeastSquares) refine(p Point, entries [3]CalibrationEntry, d [3]float64) Point {
	J := mat.NewDense(3, 2, nil)
	r := mat.NewVecDense(3, nil)
	for iter := 0; iter < e.Iterations; iter++ {
		for i, a := range entries {
			dx, dy := p.X-a.X, p.Y-a.Y
			norm := math.Hypot(dx, dy)
			if norm < MinDistance {
				norm = MinDistance
			}
			J.Set(i, 0, dx/norm)
			J.Set(i, 1, dy/norm)
			r.SetVec(i, norm-d[i])
		}
		Jinv, ok := pinv(J)
		if !ok {
			return p
		}
		var step mat.VecDense
		step.MulVec(Jinv, r)
		next := Point{X: p.X - step.AtVec(0), Y: p.Y - step.AtVec(1)}
		if !finite(next.X) || !finite(next.Y) {
			return p
		}
		p = next
		if math.Hypot(step.AtVec(0), step.AtVec(1)) < refineTol {
			break
		}
	}
	return p
}
