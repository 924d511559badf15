package fetchmock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

// Response is the normalized form of a route's response. It is one of
// StatusResponse, BodyResponse, ConfigResponse, FuncResponse,
// DeferredResponse or RawResponse.
type Response interface {
	isResponse()
}

// StatusResponse answers with an empty body and the given status.
type StatusResponse int

// BodyResponse answers 200 with Body. Strings and byte slices are sent as-is;
// other values are encoded as JSON.
type BodyResponse struct {
	Body any
}

// ConfigResponse describes a response in full.
type ConfigResponse struct {
	// Status defaults to 200.
	Status int

	// Body is sent as-is for strings, []byte and io.Reader, and JSON-encoded otherwise.
	Body any

	// Header is copied onto the response.
	Header http.Header

	// RedirectURL makes the response look like the result of a redirect to this URL.
	RedirectURL string

	// Throws makes the call fail with this error instead of answering.
	Throws error
}

// FuncResponse computes the response from the call. It may return any value
// accepted by NormalizeResponse, including another FuncResponse.
type FuncResponse func(call *CallLog) any

// DeferredResponse delivers the response later. The call waits for a value or
// for its context to end.
type DeferredResponse <-chan any

// RawResponse is used unmodified, apart from body instrumentation.
type RawResponse struct {
	*http.Response
}

func (StatusResponse) isResponse()   {}
func (BodyResponse) isResponse()     {}
func (ConfigResponse) isResponse()   {}
func (FuncResponse) isResponse()     {}
func (DeferredResponse) isResponse() {}
func (RawResponse) isResponse()      {}

var configResponseKeys = map[string]bool{
	"body":        true,
	"status":      true,
	"headers":     true,
	"throws":      true,
	"redirectUrl": true,
}

// NormalizeResponse converts a response value into a Response. Values are
// checked in this order:
//
//   - Response values are returned as-is
//   - *http.Response becomes a RawResponse
//   - error becomes a ConfigResponse that throws it
//   - integers become a StatusResponse
//   - string and []byte become a BodyResponse
//   - func(*CallLog) any becomes a FuncResponse
//   - channels of any become a DeferredResponse
//   - map[string]any with any of the body, status, headers, throws or
//     redirectUrl keys becomes a ConfigResponse; other keys are ignored
//   - anything else becomes a BodyResponse sent as JSON
func NormalizeResponse(v any) (Response, error) {
	switch r := v.(type) {
	case nil:
		return nil, ErrMissingResponse
	case *ConfigResponse:
		if r == nil {
			return nil, ErrMissingResponse
		}
		return *r, nil
	case RawResponse:
		if r.Response == nil {
			return nil, fmt.Errorf("%w: nil *http.Response", ErrInvalidResponse)
		}
		return r, nil
	case Response:
		return r, nil
	case *http.Response:
		if r == nil {
			return nil, fmt.Errorf("%w: nil *http.Response", ErrInvalidResponse)
		}
		return RawResponse{r}, nil
	case error:
		return ConfigResponse{Throws: r}, nil
	case int:
		return StatusResponse(r), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		status, _ := strconv.Atoi(fmt.Sprint(r))
		return StatusResponse(status), nil
	case string, []byte:
		return BodyResponse{Body: r}, nil
	case func(*CallLog) any:
		return FuncResponse(r), nil
	case <-chan any:
		return DeferredResponse(r), nil
	case chan any:
		return DeferredResponse(r), nil
	case map[string]any:
		if isConfigShape(r) {
			return configFromMap(r)
		}
		return BodyResponse{Body: r}, nil
	default:
		return BodyResponse{Body: r}, nil
	}
}

func isConfigShape(m map[string]any) bool {
	for key := range m {
		if configResponseKeys[key] {
			return true
		}
	}
	return false
}

func configFromMap(m map[string]any) (ConfigResponse, error) {
	cfg := ConfigResponse{Body: m["body"]}

	switch s := m["status"].(type) {
	case nil:
	case int:
		cfg.Status = s
	case float64:
		cfg.Status = int(s)
	case string:
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, fmt.Errorf("%w: status %q", ErrInvalidStatus, s)
		}
		cfg.Status = n
	default:
		return cfg, fmt.Errorf("%w: status of type %T", ErrInvalidStatus, s)
	}

	switch h := m["headers"].(type) {
	case nil:
	case http.Header:
		cfg.Header = canonicalHeader(h)
	case map[string]string:
		cfg.Header = make(http.Header, len(h))
		for k, v := range h {
			cfg.Header.Set(k, v)
		}
	case map[string]any:
		cfg.Header = make(http.Header, len(h))
		for k, v := range h {
			for _, value := range headerValues(v) {
				cfg.Header.Add(k, value)
			}
		}
	default:
		return cfg, fmt.Errorf("%w: headers of type %T", ErrInvalidResponse, h)
	}

	switch t := m["throws"].(type) {
	case nil:
	case error:
		cfg.Throws = t
	case string:
		cfg.Throws = errors.New(t)
	default:
		return cfg, fmt.Errorf("%w: throws of type %T", ErrInvalidResponse, t)
	}

	if redirect, ok := m["redirectUrl"].(string); ok {
		cfg.RedirectURL = redirect
	}
	return cfg, nil
}

// resolveResponse calls functions and awaits deferred values until it
// reaches a ConfigResponse or RawResponse.
func resolveResponse(ctx context.Context, call *CallLog, res Response) (Response, error) {
	for {
		switch v := res.(type) {
		case FuncResponse:
			next, err := NormalizeResponse(v(call))
			if err != nil {
				return nil, err
			}
			res = next

		case DeferredResponse:
			select {
			case value, ok := <-v:
				if !ok {
					return nil, fmt.Errorf("%w: deferred response closed without a value", ErrInvalidResponse)
				}
				next, err := NormalizeResponse(value)
				if err != nil {
					return nil, err
				}
				res = next
			case <-ctx.Done():
				return nil, abortError(ctx)
			}

		case StatusResponse:
			return ConfigResponse{Status: int(v)}, nil
		case BodyResponse:
			return ConfigResponse{Body: v.Body}, nil
		case ConfigResponse, RawResponse:
			return v, nil
		default:
			return nil, fmt.Errorf("%w: %T", ErrInvalidResponse, res)
		}
	}
}

// buildResponse turns a ConfigResponse into an *http.Response.
func buildResponse(cfg ConfigResponse, includeContentLength bool) (*http.Response, error) {
	status := cfg.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 599 {
		return nil, fmt.Errorf("%w: %d is not in the range 200 to 599", ErrInvalidStatus, status)
	}

	header := canonicalHeader(cfg.Header)

	body, err := encodeBody(cfg.Body, header)
	if err != nil {
		return nil, err
	}

	if includeContentLength && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}, nil
}

func encodeBody(body any, header http.Header) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case io.Reader:
		out, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %w", ErrInvalidResponse, err)
		}
		return out, nil
	default:
		out, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding body: %w", ErrInvalidResponse, err)
		}
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
		return out, nil
	}
}

// observe wraps resp so body reads are tracked on the call and the request
// reflects the requested URL, or the redirect target when one is set.
func observe(ctx context.Context, call *CallLog, resp *http.Response, redirectURL string) *http.Response {
	out := *resp
	req := call.httpRequest()

	if redirectURL != "" {
		if target, err := url.Parse(redirectURL); err == nil {
			redirected := req.Clone(req.Context())
			redirected.URL = target
			redirected.Host = target.Host
			redirected.Response = &http.Response{
				Status:     "302 Found",
				StatusCode: http.StatusFound,
				Header:     http.Header{"Location": []string{redirectURL}},
				Body:       http.NoBody,
				Request:    req,
			}
			req = redirected
		}
	}
	out.Request = req

	body := out.Body
	if body == nil {
		body = http.NoBody
	}
	out.Body = newObservedBody(ctx, call, body, out.ContentLength)
	return &out
}

// Redirected reports whether resp was produced by a redirect.
func Redirected(resp *http.Response) bool {
	return resp != nil && resp.Request != nil && resp.Request.Response != nil
}

// ResponseURL returns the URL the response was served for, after redirects.
func ResponseURL(resp *http.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}

// observedBody registers a pending completion on the first read and settles
// it once every byte of a known length was read, the read fails or reaches
// EOF, the body is closed, or the call is aborted.
type observedBody struct {
	call *CallLog
	rc   io.ReadCloser

	mu      sync.Mutex
	pending *completion
	aborted bool
	// remaining is negative when the length is unknown
	remaining int64
	stop      func() bool
}

func newObservedBody(ctx context.Context, call *CallLog, rc io.ReadCloser, length int64) *observedBody {
	b := &observedBody{call: call, rc: rc, remaining: length}
	if length <= 0 {
		// hand-built responses often leave ContentLength at zero, so only
		// EOF ends those reads
		b.remaining = -1
	}
	b.stop = context.AfterFunc(ctx, b.abort)
	return b
}

func (b *observedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return 0, abortError(b.call.Context)
	}
	if b.pending == nil {
		b.pending = b.call.track()
	}
	pending := b.pending
	b.mu.Unlock()

	n, err := b.rc.Read(p)

	b.mu.Lock()
	if b.remaining > 0 {
		b.remaining = max(b.remaining-int64(n), 0)
	}
	drained := b.remaining == 0
	aborted := b.aborted
	b.mu.Unlock()

	if err != nil || drained {
		pending.settle()
	}
	if err != nil && aborted {
		return n, abortError(b.call.Context)
	}
	return n, err
}

func (b *observedBody) Close() error {
	b.stop()
	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()
	if pending != nil {
		pending.settle()
	}
	return b.rc.Close()
}

func (b *observedBody) abort() {
	b.mu.Lock()
	b.aborted = true
	pending := b.pending
	b.mu.Unlock()
	if pending != nil {
		pending.settle()
	}
	_ = b.rc.Close()
}

func abortError(ctx context.Context) error {
	return errors.Join(ErrAborted, context.Cause(ctx))
}
