package e007

// Add returns a + b. A trivial function for a trivial test; see the tests.
func Add(a, b float64) float64 {
	return a + b
}
