package pagination

import (
	"net/http"
	"strings"
)

const (
	// DefaultPageSize applies when neither the request nor the response
	// names a page size.
	DefaultPageSize = 5

	// MaxInFlightPages bounds concurrent page fetches in Stream.
	MaxInFlightPages = 3

	// DefaultTotalKey and DefaultDataKey locate the item count and the item
	// array in a list response.
	DefaultTotalKey = "total"
	DefaultDataKey  = "items"
)

// Fields names the pagination parameters on both sides of the wire.
type Fields struct {
	// AmountKey is the query parameter carrying the page size.
	AmountKey string

	// OffsetKey is the query parameter carrying the offset or page number.
	OffsetKey string

	// ResponseAmountKey is the dotted response path of the effective page
	// size. Consulted only when the request does not set AmountKey.
	ResponseAmountKey string

	// ResponseOffsetKey is the dotted response path of the effective offset.
	ResponseOffsetKey string
}

// DefaultFields returns limit/offset on both sides.
func DefaultFields() Fields {
	return Fields{
		AmountKey:         "limit",
		OffsetKey:         "offset",
		ResponseAmountKey: "limit",
		ResponseOffsetKey: "offset",
	}
}

// FieldsForMethod returns the field names the API uses for method: GET
// lists take limit/offset, other methods take page_size/current_page.
func FieldsForMethod(method string) Fields {
	f := DefaultFields()
	if method != "" && !strings.EqualFold(method, http.MethodGet) {
		f.AmountKey = "page_size"
		f.OffsetKey = "current_page"
	}
	return f
}

// Strategy selects how page boundaries are expressed.
type Strategy string

const (
	// StrategyOffset sends OffsetKey = page * pageSize.
	StrategyOffset Strategy = "offset"

	// StrategyPage sends OffsetKey = page + 1.
	StrategyPage Strategy = "page"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyOffset || s == StrategyPage
}
