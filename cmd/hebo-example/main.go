// Command hebo-example tunes a toy objective with Bayesian search, a warm
// start, a batching concurrency limiter and asynchronous successive halving,
// then prints the best configuration found.
package main

func main() {
	Execute()
}
