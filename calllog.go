package fetchmock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RequestInit carries the options of a call made with a URL-like input, or
// overrides applied on top of a pre-built *http.Request.
type RequestInit struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// Header holds the request headers.
	Header http.Header

	// Body is the request body: a string, []byte, io.Reader or url.Values.
	Body any
}

// CallOptions are the normalized request options recorded for a call.
type CallOptions struct {
	// Method is the lower-cased request method, empty when none was given.
	Method string

	// Header holds the request headers with canonical names.
	Header http.Header
}

// CallLog records a single intercepted call.
type CallLog struct {
	// ID uniquely identifies the call.
	ID string

	// Input is the first argument given to Fetch.
	Input any

	// Init is the options argument given to Fetch, if any.
	Init *RequestInit

	// URL is the normalized request URL.
	URL string

	// Options holds the normalized method and headers.
	Options CallOptions

	// Query holds the query parameters parsed from URL.
	Query url.Values

	// Request is the pre-built request given to Fetch or RoundTrip, nil otherwise.
	Request *http.Request

	// Context is the cancellation signal of the call.
	Context context.Context

	mu       sync.Mutex
	req      *http.Request
	route    *Route
	response *http.Response
	pending  []*completion
	params   map[string]map[string]string
	lastPath map[string]string

	bodySource io.Reader
	body       []byte
	bodyLoaded bool
	bodyErr    error
}

// newCallLog normalizes the arguments of a call into a CallLog.
func newCallLog(ctx context.Context, input any, init *RequestInit, allowRelative bool) (*CallLog, error) {
	call := &CallLog{
		ID:      uuid.NewString(),
		Input:   input,
		Init:    init,
		Context: ctx,
	}

	var (
		rawURL string
		method string
		header http.Header
		body   any
	)

	switch v := input.(type) {
	case string:
		rawURL = v
	case *url.URL:
		if v == nil {
			return nil, fmt.Errorf("%w: nil url", ErrInvalidInput)
		}
		rawURL = v.String()
	case *http.Request:
		if v == nil || v.URL == nil {
			return nil, fmt.Errorf("%w: nil request", ErrInvalidInput)
		}
		call.Request = v
		rawURL = v.URL.String()
		method = v.Method
		header = v.Header
		if v.Body != nil && v.Body != http.NoBody {
			body = v.Body
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidInput, input)
	}

	if init != nil {
		if init.Method != "" {
			method = init.Method
		}
		if init.Header != nil {
			header = init.Header
		}
		if init.Body != nil {
			body = init.Body
		}
	}

	normalized, err := normalizeURL(rawURL, allowRelative)
	if err != nil {
		return nil, err
	}
	call.URL = normalized
	call.Query = parseQuery(normalized)
	call.Options = CallOptions{
		Method: strings.ToLower(method),
		Header: canonicalHeader(header),
	}

	source, err := bodyReader(body)
	if err != nil {
		return nil, err
	}
	call.bodySource = source

	req, err := call.buildRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	call.req = req

	return call, nil
}

// buildRequest returns the request handed to passthrough transports and
// exposed as the response's Request.
func (c *CallLog) buildRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	method := strings.ToUpper(c.Options.Method)
	if method == "" {
		method = http.MethodGet
	}

	if c.Request != nil && c.Init == nil {
		return c.Request.WithContext(ctx), nil
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	req.Header = c.Options.Header.Clone()
	if c.bodySource != nil {
		req.Body = io.NopCloser(c.bodySource)
	}
	return req, nil
}

func bodyReader(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		if b == "" {
			return nil, nil
		}
		return strings.NewReader(b), nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		return bytes.NewReader(b), nil
	case url.Values:
		return strings.NewReader(b.Encode()), nil
	case io.Reader:
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unsupported body type %T", ErrInvalidInput, body)
	}
}

func canonicalHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		key := http.CanonicalHeaderKey(name)
		out[key] = append(out[key], values...)
	}
	return out
}

func parseQuery(rawURL string) url.Values {
	u, err := url.Parse(rawURL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// hasBody reports whether the call was made with a request body.
func (c *CallLog) hasBody() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bodyLoaded {
		return len(c.body) > 0
	}
	return c.bodySource != nil
}

// Body returns the request body, reading it on first use. The request stays
// replayable for passthrough transports.
func (c *CallLog) Body() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadBodyLocked()
}

func (c *CallLog) loadBodyLocked() ([]byte, error) {
	if c.bodyLoaded {
		return c.body, c.bodyErr
	}
	c.bodyLoaded = true
	if c.bodySource == nil {
		return nil, nil
	}

	b, err := io.ReadAll(c.bodySource)
	if closer, ok := c.bodySource.(io.Closer); ok {
		_ = closer.Close()
	}
	c.body, c.bodyErr = b, err
	if err != nil {
		c.bodyErr = fmt.Errorf("failed to read request body: %w", err)
		return nil, c.bodyErr
	}

	if c.req != nil {
		c.req.Body = io.NopCloser(bytes.NewReader(b))
		c.req.ContentLength = int64(len(b))
		c.req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	return c.body, nil
}

// closeBody releases an unread request body after the call was aborted.
func (c *CallLog) closeBody() {
	if closer, ok := c.bodySource.(io.Closer); ok {
		_ = closer.Close()
	}
}

// passthroughRequest returns a request a real transport can send.
func (c *CallLog) passthroughRequest() (*http.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.loadBodyLocked(); err != nil {
		return nil, err
	}
	req := c.req.Clone(c.req.Context())
	if c.req.GetBody != nil {
		body, err := c.req.GetBody()
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func (c *CallLog) httpRequest() *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Route returns the route that served the call, nil when none matched.
func (c *CallLog) Route() *Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

func (c *CallLog) setRoute(r *Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route = r
}

// Response returns the response delivered for the call, nil when the call failed.
func (c *CallLog) Response() *http.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

func (c *CallLog) setResponse(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = resp
}

// Params returns the path parameters extracted by the last express: pattern
// evaluated against the call.
func (c *CallLog) Params() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.lastPath))
	for k, v := range c.lastPath {
		out[k] = v
	}
	return out
}

// expressParams extracts params for p, caching the result per pattern.
func (c *CallLog) expressParams(p *expressPattern) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params, ok := c.params[p.source]; ok {
		return params, params != nil
	}
	if c.params == nil {
		c.params = make(map[string]map[string]string)
	}
	params, ok := p.match(pathOf(c.URL))
	c.params[p.source] = params
	if ok {
		c.lastPath = params
	}
	return params, ok
}

// track registers a new pending completion for dispatch or a body read.
func (c *CallLog) track() *completion {
	done := &completion{done: make(chan struct{})}
	c.mu.Lock()
	c.pending = append(c.pending, done)
	c.mu.Unlock()
	return done
}

// unsettled returns the pending completions that have not settled yet and
// prunes the settled ones.
func (c *CallLog) unsettled() []*completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := c.pending[:0]
	for _, p := range c.pending {
		if !p.settled() {
			open = append(open, p)
		}
	}
	clear(c.pending[len(open):])
	c.pending = open
	return slices.Clone(open)
}

// completion settles once, when dispatch or a body read ends.
type completion struct {
	done chan struct{}
	once sync.Once
}

func (c *completion) settle() {
	c.once.Do(func() { close(c.done) })
}

func (c *completion) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
