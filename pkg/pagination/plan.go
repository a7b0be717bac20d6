package pagination

import (
	"net/url"
	"strconv"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
)

// Plan is the page layout derived from the first response.
type Plan struct {
	Total      int
	PageSize   int
	TotalPages int

	params url.Values
	fields Fields
}

// NewPlan reads the item total at totalKey and resolves the page size from,
// in order, params[fields.AmountKey], the response's ResponseAmountKey and
// DefaultPageSize.
func NewPlan(initialBody []byte, params url.Values, totalKey string, fields Fields) (Plan, error) {
	raw, ok := lookup(initialBody, totalKey)
	if !ok {
		return Plan{}, apierr.New(apierr.KindPaginationConfig, "cannot determine total: key %q not found", totalKey)
	}
	total, ok := parseCount(raw)
	if !ok || total < 0 {
		return Plan{}, apierr.New(apierr.KindPaginationConfig, "cannot determine total: %q is %s", totalKey, string(raw))
	}

	pageSize := DefaultPageSize
	switch {
	case params.Has(fields.AmountKey):
		v := params.Get(fields.AmountKey)
		n, err := strconv.Atoi(v)
		if err != nil {
			return Plan{}, apierr.Wrap(apierr.KindPaginationConfig, err, "invalid page size %q", v)
		}
		pageSize = n
	case fields.ResponseAmountKey != "":
		if raw, ok := lookup(initialBody, fields.ResponseAmountKey); ok {
			if n, ok := parseCount(raw); ok {
				pageSize = n
			}
		}
	}

	if pageSize <= 0 {
		return Plan{}, apierr.New(apierr.KindPaginationConfig, "invalid page size %d", pageSize)
	}

	return Plan{
		Total:      total,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
		params:     cloneValues(params),
		fields:     fields,
	}, nil
}

// PageParams returns a copy of the original parameters with the offset key
// set for the zero-based page.
func (p Plan) PageParams(page int, strategy Strategy) (url.Values, error) {
	var value int
	switch strategy {
	case StrategyOffset:
		value = page * p.PageSize
	case StrategyPage:
		value = page + 1
	default:
		return nil, apierr.New(apierr.KindPaginationConfig, "unsupported pagination method %q", strategy)
	}

	params := cloneValues(p.params)
	params.Set(p.fields.OffsetKey, strconv.Itoa(value))
	return params, nil
}

// CoversFirstPage reports whether a request sent with params returns page 0,
// which holds when params leave the offset key unset or match page 0.
func (p Plan) CoversFirstPage(params url.Values, strategy Strategy) bool {
	if !params.Has(p.fields.OffsetKey) {
		return true
	}
	first, err := p.PageParams(0, strategy)
	if err != nil {
		return false
	}
	return params.Get(p.fields.OffsetKey) == first.Get(p.fields.OffsetKey)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}
