package hostcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tarmac-project/fetchmock"
	sdkproto "github.com/tarmac-project/protobuf-go/sdk"
	proto "github.com/tarmac-project/protobuf-go/sdk/http"
)

// DefaultNamespace is used when no explicit namespace is provided.
const DefaultNamespace = "tarmac"

const (
	capabilityName = "httpclient"
	functionName   = "call"

	hostStatusOK       = int32(200)
	hostStatusBadInput = int32(400)
	hostStatusError    = int32(500)
)

var (
	// ErrNilFetcher is returned by New when no Fetcher is configured.
	ErrNilFetcher = errors.New("fetcher cannot be nil")

	// ErrUnexpectedNamespace is returned when the namespace is not the configured one.
	ErrUnexpectedNamespace = errors.New("unexpected namespace")

	// ErrUnexpectedCapability is returned when the capability is not httpclient.
	ErrUnexpectedCapability = errors.New("unexpected capability")

	// ErrUnexpectedFunction is returned when the function is not call.
	ErrUnexpectedFunction = errors.New("unexpected function")

	// ErrMarshalResponse wraps failures while encoding the response payload.
	ErrMarshalResponse = errors.New("failed to marshal response")
)

// Fetcher performs a call. *fetchmock.FetchMock implements it.
type Fetcher interface {
	Fetch(ctx context.Context, input any, init *fetchmock.RequestInit) (*http.Response, error)
}

// Config configures a Host.
type Config struct {
	// Fetcher answers the requests. Required.
	Fetcher Fetcher

	// Namespace is the waPC namespace accepted by HostCall. Defaults to DefaultNamespace.
	Namespace string

	// Context is passed to every Fetch. Defaults to context.Background().
	Context context.Context
}

// Host answers httpclient host calls.
type Host struct {
	fetcher   Fetcher
	namespace string
	ctx       context.Context
}

// New creates a Host from config.
func New(config Config) (*Host, error) {
	if config.Fetcher == nil {
		return nil, ErrNilFetcher
	}

	h := &Host{
		fetcher:   config.Fetcher,
		namespace: DefaultNamespace,
		ctx:       config.Context,
	}
	if config.Namespace != "" {
		h.namespace = config.Namespace
	}
	if h.ctx == nil {
		h.ctx = context.Background()
	}
	return h, nil
}

// HostCall has the waPC host call signature. It decodes an HTTPClient
// request, fetches it and encodes the outcome as an HTTPClientResponse.
func (h *Host) HostCall(namespace, capability, function string, payload []byte) ([]byte, error) {
	if namespace != h.namespace {
		return nil, fmt.Errorf("%w: expected namespace %s, got %s", ErrUnexpectedNamespace, h.namespace, namespace)
	}
	if capability != capabilityName {
		return nil, fmt.Errorf("%w: expected capability %s, got %s", ErrUnexpectedCapability, capabilityName, capability)
	}
	if function != functionName {
		return nil, fmt.Errorf("%w: expected function %s, got %s", ErrUnexpectedFunction, functionName, function)
	}

	var req proto.HTTPClient
	if err := req.UnmarshalVT(payload); err != nil {
		return reply(failure(hostStatusBadInput, fmt.Sprintf("invalid request payload: %s", err)))
	}

	header := make(http.Header, len(req.GetHeaders()))
	for name, values := range req.GetHeaders() {
		header[http.CanonicalHeaderKey(name)] = values.GetValues()
	}

	init := &fetchmock.RequestInit{Method: req.GetMethod(), Header: header}
	if body := req.GetBody(); len(body) > 0 {
		init.Body = body
	}

	resp, err := h.fetcher.Fetch(h.ctx, req.GetUrl(), init)
	if err != nil {
		return reply(failure(hostStatusError, err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply(failure(hostStatusError, fmt.Sprintf("failed to read response body: %s", err)))
	}

	out := &proto.HTTPClientResponse{
		Status:  &sdkproto.Status{Status: "OK", Code: hostStatusOK},
		Code:    int32(resp.StatusCode),
		Headers: make(map[string]*proto.Header, len(resp.Header)),
		Body:    body,
	}
	for name, values := range resp.Header {
		out.Headers[name] = &proto.Header{Values: values}
	}
	return reply(out)
}

func failure(code int32, message string) *proto.HTTPClientResponse {
	return &proto.HTTPClientResponse{
		Status: &sdkproto.Status{Status: message, Code: code},
	}
}

func reply(resp *proto.HTTPClientResponse) ([]byte, error) {
	b, err := resp.MarshalVT()
	if err != nil {
		return nil, errors.Join(ErrMarshalResponse, err)
	}
	return b, nil
}
