package stream

// Merge folds fragment into dst and returns dst. Strings concatenate,
// arrays append, objects merge recursively and any other value overwrites.
// A value of a different kind than the one held replaces it.
func Merge(dst, fragment map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(fragment))
	}
	for k, v := range fragment {
		dst[k] = mergeValue(dst[k], v)
	}
	return dst
}

func mergeValue(old, next any) any {
	switch n := next.(type) {
	case string:
		if o, ok := old.(string); ok {
			return o + n
		}
	case []any:
		if o, ok := old.([]any); ok {
			return append(o, n...)
		}
	case map[string]any:
		if o, ok := old.(map[string]any); ok {
			return Merge(o, n)
		}
		return Merge(nil, n)
	}
	return next
}
