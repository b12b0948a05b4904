package broadcast

// Partition splits recipients into contiguous, disjoint slices of at most
// size entries, preserving order. The last slice may be shorter. An empty
// input yields no batches. The returned slices alias the input; callers
// must not mutate them.
func Partition(recipients []string, size int) [][]string {
	if len(recipients) == 0 || size <= 0 {
		return nil
	}

	batches := make([][]string, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}
