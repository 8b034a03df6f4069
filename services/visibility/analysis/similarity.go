// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import "math/rand"

// indelRatio measures how similar two strings are on a 0-100 scale
// using insert/delete edit distance: 100 means identical, 0 means no
// common subsequence. Equivalent to the classic normalized indel
// similarity ratio.
func indelRatio(a, b string) float64 {
	if a == b {
		return 100.0
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	dist := total - 2*lcsLength(ra, rb)
	return (1.0 - float64(dist)/float64(total)) * 100.0
}

// lcsLength computes the longest-common-subsequence length with a
// two-row DP, O(len(a)*len(b)) time and O(min) extra space.
func lcsLength(a, b []rune) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	cur := make([]int, len(a)+1)

	for j := 1; j <= len(b); j++ {
		for i := 1; i <= len(a); i++ {
			if a[i-1] == b[j-1] {
				cur[i] = prev[i-1] + 1
			} else if prev[i] >= cur[i-1] {
				cur[i] = prev[i]
			} else {
				cur[i] = cur[i-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(a)]
}

// pair is an index pair i < j into the response list.
type pair struct{ i, j int }

// samplePairs returns up to cap distinct pairs over n items. When the
// full pair count fits the cap every pair is returned; otherwise a
// uniform without-replacement sample bounds the work independent of
// batch size.
func samplePairs(n, capacity int, rng *rand.Rand) []pair {
	totalPairs := n * (n - 1) / 2
	if totalPairs <= 0 {
		return nil
	}

	if totalPairs <= capacity {
		out := make([]pair, 0, totalPairs)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				out = append(out, pair{i, j})
			}
		}
		return out
	}

	seen := make(map[pair]struct{}, capacity)
	out := make([]pair, 0, capacity)
	for len(out) < capacity {
		i := rng.Intn(n)
		j := rng.Intn(n)
		if i == j {
			continue
		}
		if j < i {
			i, j = j, i
		}
		p := pair{i, j}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
