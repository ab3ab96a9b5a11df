package maintenance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spray.report/internal/spray"
)

// Regressor fits y against x and predicts y at a new x.
type Regressor interface {
	Fit(x, y []float64) (Predictor, error)
}

// Predictor is a fitted model.
type Predictor interface {
	Predict(x float64) float64
}

// LinearRegressor is an ordinary least-squares line.
type LinearRegressor struct{}

type line struct{ alpha, beta float64 }

func (l line) Predict(x float64) float64 { return l.alpha + l.beta*x }

// Fit returns spray.ErrEstimationDegenerate when the inputs cannot support a
// line, for example when every x is the same.
func (LinearRegressor) Fit(x, y []float64) (Predictor, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("fit %d x values against %d y values", len(x), len(y))
	}
	if len(x) < 2 {
		return nil, fmt.Errorf("fit %d points: %w", len(x), spray.ErrEstimationDegenerate)
	}
	if stat.Variance(x, nil) == 0 {
		return nil, fmt.Errorf("constant input: %w", spray.ErrEstimationDegenerate)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	if !finite(alpha) || !finite(beta) {
		return nil, fmt.Errorf("non-finite coefficients: %w", spray.ErrEstimationDegenerate)
	}
	return line{alpha: alpha, beta: beta}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
