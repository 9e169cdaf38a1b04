package common

import (
	"math"
	"net/url"
	"strconv"
)

// maxPageNumber bounds ?page= so Offset stays well inside int.
const maxPageNumber = 100000

// Page is a 1-based page window requested through ?page= and ?limit=.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"per_page"`
}

// PageMeta is returned next to paged list data.
type PageMeta struct {
	Page
	Count int `json:"total_items"`
}

// PageFromQuery reads page and limit, falling back to size and capping limit at maxSize.
func PageFromQuery(q url.Values, size, maxSize int) Page {
	p := Page{Number: positiveInt(q.Get("page"), 1), Size: positiveInt(q.Get("limit"), size)}
	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
	if p.Number > maxPageNumber {
		p.Number = maxPageNumber
	}
	return p
}

// Offset is the number of rows skipped before the page starts. It saturates instead of wrapping.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
