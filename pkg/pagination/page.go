package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
	"github.com/Sternrassler/codemao-client/pkg/client"
)

// Executor issues one logical request. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, spec client.RequestSpec) (*client.Response, error)
}

// Request describes a paged list call.
type Request struct {
	Endpoint string
	Method   string // defaults to GET
	Params   url.Values
	Payload  any

	TotalKey string   // defaults to DefaultTotalKey
	DataKey  string   // defaults to DefaultDataKey
	Strategy Strategy // defaults to StrategyOffset

	// Fields defaults to FieldsForMethod(Method).
	Fields *Fields

	// Limit caps the number of items yielded by Stream. Zero is unlimited.
	Limit int

	NoLog bool
}

func (r Request) withDefaults() Request {
	if r.TotalKey == "" {
		r.TotalKey = DefaultTotalKey
	}
	if r.DataKey == "" {
		r.DataKey = DefaultDataKey
	}
	if r.Strategy == "" {
		r.Strategy = StrategyOffset
	}
	if r.Fields == nil {
		f := FieldsForMethod(r.Method)
		r.Fields = &f
	}
	return r
}

func (r Request) spec(params url.Values) client.RequestSpec {
	return client.RequestSpec{
		Endpoint: r.Endpoint,
		Method:   r.Method,
		Query:    params,
		Body:     r.Payload,
		NoLog:    r.NoLog,
	}
}

// Item is one decoded array element, or the error decoding it.
type Item[T any] struct {
	Value T
	Err   error
}

// Page is one decoded page.
type Page[T any] struct {
	Index int
	Items []Item[T]

	// Offset is the response's ResponseOffsetKey value; HasOffset reports
	// whether the response carried one.
	Offset    int
	HasOffset bool

	// Capped is set when Take dropped items from the page.
	Capped bool
}

// Take returns the page cut after n successfully decoded items. Decode
// errors before the cut are kept and do not count toward n.
func (p Page[T]) Take(n int) Page[T] {
	taken := 0
	for i, item := range p.Items {
		if taken == n {
			p.Capped = true
			p.Items = p.Items[:i]
			return p
		}
		if item.Err == nil {
			taken++
		}
	}
	return p
}

// Values counts the successfully decoded items.
func (p Page[T]) Values() int {
	n := 0
	for _, item := range p.Items {
		if item.Err == nil {
			n++
		}
	}
	return n
}

// PageError reports a failure affecting a whole page.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// FetchPage requests one page with params and decodes it.
func FetchPage[T any](ctx context.Context, exec Executor, req Request, index int, params url.Values) (Page[T], error) {
	req = req.withDefaults()

	resp, err := exec.Execute(ctx, req.spec(params))
	if err != nil {
		return Page[T]{Index: index}, err
	}
	return DecodePage[T](index, resp.Body, req.DataKey, *req.Fields)
}

// DecodePage decodes the array at dataKey. A missing or non-array dataKey
// fails the page; an element that does not decode fails only that element.
func DecodePage[T any](index int, body []byte, dataKey string, fields Fields) (Page[T], error) {
	items, err := DecodeItems[T](body, dataKey)
	if err != nil {
		return Page[T]{Index: index}, err
	}

	page := Page[T]{Index: index, Items: items}
	if fields.ResponseOffsetKey != "" {
		if raw, ok := lookup(body, fields.ResponseOffsetKey); ok {
			if n, ok := parseCount(raw); ok {
				page.Offset = n
				page.HasOffset = true
			}
		}
	}
	return page, nil
}

// DecodeItems decodes every element of the array at the dotted dataKey.
func DecodeItems[T any](body []byte, dataKey string) ([]Item[T], error) {
	raw, ok := lookup(body, dataKey)
	if !ok {
		return nil, apierr.New(apierr.KindDecode, "data key %q not found", dataKey)
	}

	var elems []json.RawMessage
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, apierr.New(apierr.KindDecode, "data key %q is null", dataKey)
	}
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, apierr.Wrap(apierr.KindDecode, err, "data key %q is not an array", dataKey)
	}

	items := make([]Item[T], len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &items[i].Value); err != nil {
			items[i] = Item[T]{Err: apierr.Wrap(apierr.KindDecode, err, "item %d", i)}
		}
	}
	return items, nil
}
