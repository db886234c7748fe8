package fusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FitSample is one survey measurement: the RSSI observed at a known distance.
type FitSample struct {
	Distance float64 `json:"distance"`
	RSSI     float64 `json:"rssi"`
}

// FitResult is the fitted path-loss model and its residual error.
type FitResult struct {
	RSSI1m float64 `json:"rssi_1m"`
	N      float64 `json:"n"`
	RMSE   float64 `json:"rmse"`
	Used   int     `json:"used"`
}

// FitOutlierDB is the residual (dB) beyond which a sample is dropped
// before the second pass.
const FitOutlierDB = 6.0

// FitPathLoss fits rssi = rssi_1m - 10 n log10(d) by linear least squares
// over log10(d). Samples whose residual exceeds FitOutlierDB after the first
// pass are discarded and the model is refit once.
func FitPathLoss(samples []FitSample) (FitResult, error) {
	usable := make([]FitSample, 0, len(samples))
	for _, s := range samples {
		if s.Distance > 0 && finite(s.Distance) && finite(s.RSSI) {
			usable = append(usable, s)
		}
	}
	res, err := fitOnce(usable)
	if err != nil {
		return FitResult{}, err
	}

	kept := usable[:0:0]
	for _, s := range usable {
		pred := PathLoss{RSSI1m: res.RSSI1m, N: res.N}.RSSIAt(s.Distance)
		if math.Abs(pred-s.RSSI) <= FitOutlierDB {
			kept = append(kept, s)
		}
	}
	if len(kept) < len(usable) {
		if refit, err := fitOnce(kept); err == nil {
			res = refit
		}
	}
	if res.N <= 0 {
		return res, errors.Errorf("fitted exponent %.3f is not positive", res.N)
	}
	return res, nil
}

func fitOnce(samples []FitSample) (FitResult, error) {
	if len(samples) < 2 {
		return FitResult{}, errors.Errorf("need at least 2 samples with positive distance, got %d", len(samples))
	}
	distinct := false
	for _, s := range samples[1:] {
		if s.Distance != samples[0].Distance {
			distinct = true
			break
		}
	}
	if !distinct {
		return FitResult{}, errors.New("samples must cover at least 2 distinct distances")
	}
	X := mat.NewDense(len(samples), 2, nil)
	y := mat.NewVecDense(len(samples), nil)
	for i, s := range samples {
		X.Set(i, 0, 1)
		X.Set(i, 1, math.Log10(s.Distance))
		y.SetVec(i, s.RSSI)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return FitResult{}, errors.Wrap(err, "path-loss fit")
	}
	res := FitResult{
		RSSI1m: beta.AtVec(0),
		N:      -beta.AtVec(1) / 10,
		Used:   len(samples),
	}

	var pred, resid mat.VecDense
	pred.MulVec(X, &beta)
	resid.SubVec(y, &pred)
	res.RMSE = math.Sqrt(mat.Dot(&resid, &resid) / float64(len(samples)))
	return res, nil
}
