package model

func ZeroVector(dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	return make([]float32, dim)
}

func CloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
