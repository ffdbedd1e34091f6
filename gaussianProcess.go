package hotune

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//////
// Const, vars, types.
//////

// maxJitterTries bounds how many times the noise term is raised when the
// kernel matrix is not numerically positive definite.
const maxJitterTries = 6

// gaussianProcess is a thread-safe Gaussian Process regression model over
// points of the unit cube. It predicts the loss of untested configurations
// from the observed ones.
//
// Targets are standardized before fitting; predictions are returned in the
// original units. The model is refitted on every Update.
type gaussianProcess struct {
	// mu protects access to all fields
	mu sync.RWMutex

	// X stores the encoded configurations.
	X [][]float64

	// Y stores the observed loss at each point in X.
	Y []float64

	// sigma is the RBF kernel width.
	sigma float64

	// noise is added to the kernel diagonal.
	noise float64

	// Fitted state.
	yMean, yStd float64
	chol        *mat.Cholesky
	alpha       *mat.VecDense
}

//////
// Methods.
//////

// RBFKernel is the squared exponential kernel
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// It panics if the input vectors have different lengths.
func (gp *gaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	d := floats.Distance(x1, x2, 2)

	return math.Exp(-d * d / (2 * gp.sigma * gp.sigma))
}

// Predict estimates the loss and its variance at x. With no observations it
// returns the prior (0, 1).
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.X) == 0 || gp.chol == nil {
		return 0, 1
	}

	n := len(gp.X)

	k := mat.NewVecDense(n, nil)
	for i := range gp.X {
		k.SetVec(i, gp.RBFKernel(x, gp.X[i]))
	}

	mean = mat.Dot(k, gp.alpha)

	var v mat.VecDense
	if err := gp.chol.SolveVecTo(&v, k); err != nil {
		return gp.yMean + mean*gp.yStd, gp.yStd * gp.yStd
	}

	variance = math.Max(1-mat.Dot(k, &v), 1e-12)

	return gp.yMean + mean*gp.yStd, variance * gp.yStd * gp.yStd
}

// Update adds an observation and refits the model. x is copied.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.X = append(gp.X, append([]float64(nil), x...))
	gp.Y = append(gp.Y, y)

	gp.fit()
}

// Len returns the number of observations.
func (gp *gaussianProcess) Len() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return len(gp.X)
}

// clone returns an independent copy, used to add fantasized observations
// while building a batch.
func (gp *gaussianProcess) clone() *gaussianProcess {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	c := newGaussianProcess(gp.sigma, gp.noise)
	for i := range gp.X {
		c.X = append(c.X, append([]float64(nil), gp.X[i]...))
	}

	c.Y = append(c.Y, gp.Y...)
	c.fit()

	return c
}

// fit factorizes the kernel matrix. Callers hold the write lock.
func (gp *gaussianProcess) fit() {
	n := len(gp.X)
	if n == 0 {
		gp.chol, gp.alpha = nil, nil

		return
	}

	gp.yMean, gp.yStd = stat.MeanStdDev(gp.Y, nil)
	if n == 1 || gp.yStd == 0 || math.IsNaN(gp.yStd) {
		gp.yStd = 1
	}

	z := mat.NewVecDense(n, nil)
	for i, y := range gp.Y {
		z.SetVec(i, (y-gp.yMean)/gp.yStd)
	}

	noise := gp.noise
	for try := 0; try < maxJitterTries; try++ {
		K := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				K.SetSym(i, j, gp.RBFKernel(gp.X[i], gp.X[j]))
			}

			K.SetSym(i, i, 1+noise)
		}

		var chol mat.Cholesky
		if chol.Factorize(K) {
			var alpha mat.VecDense
			if err := chol.SolveVecTo(&alpha, z); err == nil {
				gp.chol, gp.alpha = &chol, &alpha

				return
			}
		}

		noise *= 10
	}

	gp.chol, gp.alpha = nil, nil
}

//////
// Factory.
//////

// newGaussianProcess creates an empty model with the given kernel width and
// observation noise.
func newGaussianProcess(sigma, noise float64) *gaussianProcess {
	if sigma <= 0 {
		sigma = 1.0
	}

	if noise <= 0 {
		noise = 1e-6
	}

	return &gaussianProcess{
		sigma: sigma,
		noise: noise,
		yStd:  1,
	}
}
