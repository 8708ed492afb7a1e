package sampler

// Fields renders a sample set as the payload of one sample-set audit entry.
func Fields(total int64, requested int, samples []Sample) map[string]any {
	var readErrors, zeroed int
	for _, s := range samples {
		switch {
		case s.Error != "":
			readErrors++
		case s.Zeroed:
			zeroed++
		}
	}
	if samples == nil {
		samples = []Sample{}
	}
	return map[string]any{
		"block_size":  BlockSize,
		"total_size":  total,
		"requested":   requested,
		"sampled":     len(samples),
		"read_errors": readErrors,
		"zeroed":      zeroed,
		"samples":     samples,
	}
}
