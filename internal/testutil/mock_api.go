// Package testutil provides a configurable fake of the paged REST API.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a fixed endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// List describes a paged list endpoint.
//
// Responses look like {"total": N, "limit": size, "offset": off, "items": [...]},
// optionally nested under Envelope.
type List struct {
	// Items are marshalled one by one; use json.RawMessage for elements that
	// must not decode into the caller's type.
	Items []any

	// PageSize applies when the request omits AmountKey.
	PageSize int

	// AmountKey and OffsetKey default to limit and offset.
	AmountKey string
	OffsetKey string

	// PageNumbers interprets OffsetKey as a 1-based page number.
	PageNumbers bool

	// Envelope nests the response object under this key when set.
	Envelope string

	TotalAsString bool
	OmitPageSize  bool

	// FailPages maps a zero-based page index to a status code returned on
	// every request for that page.
	FailPages map[int]int

	// Delay is applied to every page after the first.
	Delay time.Duration
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount      int
	lastRequestHeader http.Header
	pages             map[string][]int
	inFlight          int
	maxInFlight       int
}

// NewMockAPI starts a mock server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
		pages:    make(map[string][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_code":"not-found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastRequestHeader = nil
	m.pages = make(map[string][]int)
	m.maxInFlight = 0
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence answers successive requests to path with responses in order,
// repeating the last one.
func (m *MockAPI) SetSequence(path string, responses ...MockResponse) {
	var (
		mu sync.Mutex
		n  int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(n, len(responses)-1)]
		n++
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})
}

// SetList serves list as a paged endpoint at path.
func (m *MockAPI) SetList(path string, list List) {
	if list.AmountKey == "" {
		list.AmountKey = "limit"
	}
	if list.OffsetKey == "" {
		list.OffsetKey = "offset"
	}

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		size := list.PageSize
		if v := query.Get(list.AmountKey); v != "" {
			size, _ = strconv.Atoi(v)
		}
		if size <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		offset := 0
		if v := query.Get(list.OffsetKey); v != "" {
			n, _ := strconv.Atoi(v)
			offset = n
			if list.PageNumbers {
				offset = (n - 1) * size
			}
		}
		page := offset / size

		m.trackPage(path, page)
		defer m.leavePage()

		if page > 0 && list.Delay > 0 {
			time.Sleep(list.Delay)
		}

		if status, fail := list.FailPages[page]; fail {
			w.WriteHeader(status)
			w.Write([]byte(`{"error_code":"injected"}`))
			return
		}

		end := min(offset+size, len(list.Items))
		items := []any{}
		if offset < end {
			items = list.Items[offset:end]
		}

		body := map[string]any{
			"offset": offset,
			"items":  items,
		}
		if list.TotalAsString {
			body["total"] = strconv.Itoa(len(list.Items))
		} else {
			body["total"] = len(list.Items)
		}
		if !list.OmitPageSize {
			body["limit"] = size
		}

		var out any = body
		if list.Envelope != "" {
			out = map[string]any{list.Envelope: body}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(out)
	})
}

func (m *MockAPI) trackPage(path string, page int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = append(m.pages[path], page)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *MockAPI) leavePage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader.Clone()
}

// PagesRequested returns the sorted page indexes requested from a list path.
func (m *MockAPI) PagesRequested(path string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := append([]int(nil), m.pages[path]...)
	sort.Ints(pages)
	return pages
}

// MaxInFlight returns the highest number of concurrent list requests seen.
func (m *MockAPI) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error_code":"internal"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error_code":"too-many-requests"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// Records returns n JSON objects {"id": i, "name": "item-i"} for i in [0, n).
func Records(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{"id": i, "name": "item-" + strconv.Itoa(i)}
	}
	return items
}
