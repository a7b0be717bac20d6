package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
)

// FilePart is one multipart file field. Content is sent as
// application/octet-stream; Field doubles as the file name.
type FilePart struct {
	Field   string
	Content []byte
}

// RequestSpec describes one logical call.
type RequestSpec struct {
	// Endpoint is an absolute http(s) URL, used verbatim, or a path appended
	// to the base URL.
	Endpoint string

	// Method defaults to GET, or POST when Files is set.
	Method string

	Query url.Values

	// Body is JSON-encoded. Ignored when Files is set.
	Body any

	Files []FilePart

	// Headers override the shared header set for this call only.
	Headers map[string]string

	// Timeout applies per attempt. Zero uses the client default.
	Timeout time.Duration

	// Retries overrides the retry ceiling. Zero uses the client default.
	Retries int

	// NoLog keeps this call out of the request log.
	NoLog bool
}

func (s RequestSpec) method() string {
	switch {
	case s.Method != "":
		return strings.ToUpper(s.Method)
	case len(s.Files) > 0:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// validate rejects specs that no attempt could send.
func (s RequestSpec) validate() error {
	if len(s.Files) == 0 {
		return nil
	}
	switch m := s.method(); m {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return nil
	default:
		return apierr.New(apierr.KindInvalidRequest, "file parts cannot be sent with %s %s", m, s.Endpoint)
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	Method    string
	URL       string
	Attempts  int
	Elapsed   time.Duration
	RequestID string
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierr.Wrap(apierr.KindDecode, err, "decode response from %s", r.URL)
	}
	return nil
}
