package raster

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePages parses a page selection such as "1-3,7,10-" against a
// document of pageCount pages. The result is ascending and free of
// duplicates. An empty selection means every page.
func ParsePages(sel string, pageCount int) ([]int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return allPages(pageCount), nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		first, last, err := parseSpan(part, pageCount)
		if err != nil {
			return nil, err
		}
		for p := first; p <= last; p++ {
			seen[p] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("invalid page range %q: no pages selected", sel)
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func parseSpan(part string, pageCount int) (int, int, error) {
	lo, hi, isRange := strings.Cut(part, "-")
	first, err := parsePageNum(lo, 1)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page range %q: %w", part, err)
	}
	last := first
	if isRange {
		if last, err = parsePageNum(hi, pageCount); err != nil {
			return 0, 0, fmt.Errorf("invalid page range %q: %w", part, err)
		}
	}

	switch {
	case first < 1 || last < 1:
		return 0, 0, fmt.Errorf("invalid page range %q: pages start at 1", part)
	case first > last:
		return 0, 0, fmt.Errorf("invalid page range %q: start after end", part)
	case last > pageCount:
		return 0, 0, fmt.Errorf("invalid page range %q: document has %d pages", part, pageCount)
	}
	return first, last, nil
}

func parsePageNum(s string, empty int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return empty, nil
	}
	return strconv.Atoi(s)
}

func allPages(n int) []int {
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}
