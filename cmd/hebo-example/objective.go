package main

import (
	"context"
	"math"
	"time"

	"github.com/thalesfsp/hotune"
)

// stepDelay simulates the cost of one training step.
var stepDelay = 100 * time.Millisecond

// evaluationFn is the closed-form score of a training step.
func evaluationFn(step int, width, height float64) float64 {
	return math.Pow(0.1+width*float64(step)/100, -1) + height*0.1
}

// easyObjective is an iterative training function: it reports one score per
// step.
func easyObjective(ctx context.Context, cfg hotune.Config, r hotune.Reporter) error {
	width, err := cfg.Float("width")
	if err != nil {
		return err
	}

	height, err := cfg.Float("height")
	if err != nil {
		return err
	}

	steps, err := cfg.Int("steps")
	if err != nil {
		return err
	}

	for step := 0; step < steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stepDelay):
		}

		err := r.Report(hotune.Metrics{
			"iterations": float64(step),
			"mean_loss":  evaluationFn(step, width, height),
		})
		if err != nil {
			return err
		}
	}

	return nil
}
