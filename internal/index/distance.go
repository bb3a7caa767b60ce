package index

// squaredL2 returns the squared Euclidean distance between a and b. The
// caller guarantees equal lengths. Accumulation is done in float64 so long
// vectors do not lose precision before the final narrowing.
func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}
