package fstable

import (
	"slices"

	"github.com/sourcegraph/conc/pool"
)

// minSortRun is the minimum number of elements sorted by a single goroutine.
// Smaller inputs are sorted serially.
const minSortRun = 4096

// sortStableFunc sorts s with cmp using up to workers goroutines, keeping
// equal elements in their original order. Runs are sorted concurrently and
// then merged pairwise.
func sortStableFunc[E any](s []E, cmp func(a, b E) int, workers int) {
	runs := min(workers, len(s)/minSortRun)
	if runs < 2 {
		slices.SortStableFunc(s, cmp)
		return
	}

	// bounds holds the start of each run followed by len(s).
	runSize := (len(s) + runs - 1) / runs
	bounds := make([]int, 0, runs+1)
	for lo := 0; lo < len(s); lo += runSize {
		bounds = append(bounds, lo)
	}
	bounds = append(bounds, len(s))

	p := pool.New().WithMaxGoroutines(workers)
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		p.Go(func() {
			slices.SortStableFunc(s[lo:hi], cmp)
		})
	}
	p.Wait()

	src, dst := s, make([]E, len(s))
	for len(bounds) > 2 {
		next := make([]int, 0, len(bounds)/2+1)
		p := pool.New().WithMaxGoroutines(workers)
		for i := 0; i+1 < len(bounds); i += 2 {
			lo := bounds[i]
			next = append(next, lo)
			if i+2 < len(bounds) {
				mid, hi := bounds[i+1], bounds[i+2]
				p.Go(func() {
					mergeStableFunc(dst[lo:hi], src[lo:mid], src[mid:hi], cmp)
				})
			} else {
				hi := bounds[i+1]
				p.Go(func() {
					copy(dst[lo:hi], src[lo:hi])
				})
			}
		}
		p.Wait()
		bounds = append(next, len(s))
		src, dst = dst, src
	}
	if &src[0] != &s[0] {
		copy(s, src)
	}
}

// mergeStableFunc merges the sorted slices a and b into dst, taking from a
// when elements are equal.
func mergeStableFunc[E any](dst, a, b []E, cmp func(a, b E) int) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if cmp(b[j], a[i]) < 0 {
			dst[k] = b[j]
			j++
		} else {
			dst[k] = a[i]
			i++
		}
		k++
	}
	k += copy(dst[k:], a[i:])
	copy(dst[k:], b[j:])
}
