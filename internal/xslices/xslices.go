package xslices

func Filter[T any, S ~[]T](s S, f func(T) bool) (r S) {
	r = make(S, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Prepend returns a slice with vals followed by the elements of s.
func Prepend[T any, S ~[]T](s S, vals ...T) S {
	if len(vals) == 0 {
		return s
	}
	r := make(S, 0, len(s)+len(vals))
	r = append(r, vals...)
	return append(r, s...)
}
