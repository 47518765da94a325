package reconcile

// LatestByKey keeps, per group key, the item with the greatest order value.
// On equal order values the item seen last wins. The output lists one item per key,
// in order of each key's first appearance.
func LatestByKey[T any, K comparable](items []T, key func(T) K, order func(T) uint64) []T {
	if len(items) == 0 {
		return nil
	}

	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))

	for _, item := range items {
		k := key(item)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, item)
			continue
		}
		if order(item) >= order(out[i]) {
			out[i] = item
		}
	}

	return out
}
