// Package pagination reads page parameters from a query string and shapes
// paged list responses.
package pagination

import (
	"net/url"
	"strconv"
)

// Limits applied by FromQuery.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a validated page request. Page is 1-based.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// FromQuery reads page and per_page, falling back to defaults for missing
// or out-of-range values.
func FromQuery(q url.Values) Params {
	p := Params{Page: 1, PerPage: DefaultPerPage}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 && v <= MaxPerPage {
		p.PerPage = v
	}
	return p
}

// Values encodes p for an outgoing request.
func (p Params) Values() url.Values {
	return url.Values{
		"page":     {strconv.Itoa(p.Page)},
		"per_page": {strconv.Itoa(p.PerPage)},
	}
}

// Offset is the index of the first item on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Result is a page of items. Data sits under the same key as the API's
// data envelope, so envelope-unwrapping clients read it as a plain list.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Paginate cuts the page described by p out of all.
func Paginate[T any](all []T, p Params) Result[T] {
	total := len(all)
	start := min(p.Offset(), total)
	end := min(start+p.PerPage, total)

	pages := (total + p.PerPage - 1) / p.PerPage
	return Result[T]{
		Data:       append([]T{}, all[start:end]...),
		TotalCount: total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
