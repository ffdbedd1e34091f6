package hotune

import "math"

//////
// Acquisition functions. All of them score a candidate from the predicted
// loss mean and variance, and lower scores are more promising.
//////

// UCB is the confidence bound acquisition function. For a loss it is the
// lower bound mean - Beta*stddev; higher Beta explores more.
//
// Example:
//
//	params := AcquisitionParams{Beta: 2.0}
//	value := UCB(0.5, 0.2, params)
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement (PI) returns the negated probability that a point
// improves on BestSoFar by at least Xi.
//
// Use it when being "probably better" matters more than "how much better".
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if mean < params.BestSoFar-params.Xi {
			return -1
		}

		return 0
	}

	return -normalCDF((params.BestSoFar - params.Xi - mean) / sigma)
}

// ExpectedImprovement (EI) returns the negated expected improvement over
// BestSoFar - Xi. It balances how likely and how large an improvement is.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	improvement := params.BestSoFar - params.Xi - mean

	if sigma == 0 {
		return -math.Max(improvement, 0)
	}

	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws a sample of the loss from the posterior.
//
// Warning:
// - params.RandomState must not be nil. BayesSearch installs its own seeded
//   generator when the configured one is nil.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}
