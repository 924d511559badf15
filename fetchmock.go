package fetchmock

import (
	"context"
	"errors"
	"net/http"

	"github.com/tarmac-project/fetchmock/logging"
	"github.com/tarmac-project/fetchmock/metrics"
)

// Config provides configuration options for a FetchMock.
type Config struct {
	// AllowRelativeURLs accepts calls and routes with relative URLs, which are
	// resolved against the root.
	AllowRelativeURLs bool

	// MatchPartialBody makes every body criterion a partial match.
	MatchPartialBody bool

	// DisableContentLength stops Content-Length being added to built responses.
	DisableContentLength bool

	// Transport serves calls routed with Spy. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Logger receives warnings and debug traces. Defaults to logging.Default().
	Logger logging.Client

	// Metrics records call outcomes. Nil disables metrics.
	Metrics *metrics.Recorder
}

// FetchMock answers HTTP calls from declared routes and records them.
type FetchMock struct {
	config Config
	router *router

	// CallHistory holds every call made through this instance.
	CallHistory *CallHistory
}

// New creates a FetchMock with no routes.
func New(config Config) *FetchMock {
	if config.Transport == nil {
		config.Transport = http.DefaultTransport
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	r := &router{
		opts: routeOptions{
			allowRelative:        config.AllowRelativeURLs,
			matchPartialBody:     config.MatchPartialBody,
			disableContentLength: config.DisableContentLength,
		},
		log:     config.Logger,
		metrics: config.Metrics,
	}
	return &FetchMock{
		config:      config,
		router:      r,
		CallHistory: &CallHistory{router: r, log: config.Logger},
	}
}

// Config returns the configuration the instance was created with.
func (m *FetchMock) Config() Config { return m.config }

// Client returns an *http.Client that sends every request through m.
func (m *FetchMock) Client() *http.Client {
	return &http.Client{Transport: m}
}

// RoundTrip implements http.RoundTripper.
func (m *FetchMock) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fetch(req.Context(), req, nil)
}

// Fetch handles a call. input is a URL string, *url.URL or *http.Request;
// init supplies the method, headers and body, or overrides those of a request.
//
// The call is recorded before it is dispatched, whatever the outcome.
func (m *FetchMock) Fetch(ctx context.Context, input any, init *RequestInit) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	call, err := newCallLog(ctx, input, init, m.config.AllowRelativeURLs)
	if err != nil {
		if req, ok := input.(*http.Request); ok && req != nil && req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	done := call.track()
	m.CallHistory.record(call)

	resp, err := m.router.execute(ctx, call, done)
	if errors.Is(err, ErrAborted) {
		call.closeBody()
		return nil, err
	}

	// drain what the matchers did not read, as a transport sending it would
	_, _ = call.Body()
	return resp, err
}

// Route adds a route. matcher is a URL pattern accepted by RouteConfig.URL,
// a func(*CallLog) bool, or a RouteConfig; options are merged over it.
func (m *FetchMock) Route(matcher any, response any, options ...RouteConfig) error {
	_, err := m.router.addRoute(routeConfigFrom(matcher, response, options))
	return err
}

func routeConfigFrom(matcher any, response any, options []RouteConfig) RouteConfig {
	var cfg RouteConfig
	switch v := matcher.(type) {
	case nil:
	case RouteConfig:
		cfg = v
	case *RouteConfig:
		if v != nil {
			cfg = *v
		}
	case func(*CallLog) bool:
		cfg.MatcherFunction = v
	case MatcherFunc:
		cfg.MatcherFunction = v
	default:
		cfg.URL = v
	}
	if response != nil {
		cfg.Response = response
	}
	for _, o := range options {
		cfg = mergeRouteConfig(cfg, o)
	}
	return cfg
}

func (m *FetchMock) shorthand(base RouteConfig, matcher, response any, options []RouteConfig) error {
	cfg := mergeRouteConfig(routeConfigFrom(matcher, response, options), base)
	_, err := m.router.addRoute(cfg)
	return err
}

var (
	once   = RouteConfig{Repeat: 1}
	sticky = RouteConfig{Sticky: true}
)

func withMethod(name string) RouteConfig { return RouteConfig{Method: name} }
func withMethodOnce(name string) RouteConfig { return RouteConfig{Method: name, Repeat: 1} }

// Get adds a route restricted to GET.
func (m *FetchMock) Get(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodGet), matcher, response, options)
}

// GetOnce adds a GET route that serves a single call.
func (m *FetchMock) GetOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodGet), matcher, response, options)
}

// Post adds a route restricted to POST.
func (m *FetchMock) Post(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodPost), matcher, response, options)
}

// PostOnce adds a POST route that serves a single call.
func (m *FetchMock) PostOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodPost), matcher, response, options)
}

// Put adds a route restricted to PUT.
func (m *FetchMock) Put(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodPut), matcher, response, options)
}

// PutOnce adds a PUT route that serves a single call.
func (m *FetchMock) PutOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodPut), matcher, response, options)
}

// Delete adds a route restricted to DELETE.
func (m *FetchMock) Delete(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodDelete), matcher, response, options)
}

// DeleteOnce adds a DELETE route that serves a single call.
func (m *FetchMock) DeleteOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodDelete), matcher, response, options)
}

// Head adds a route restricted to HEAD.
func (m *FetchMock) Head(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodHead), matcher, response, options)
}

// HeadOnce adds a HEAD route that serves a single call.
func (m *FetchMock) HeadOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodHead), matcher, response, options)
}

// Patch adds a route restricted to PATCH.
func (m *FetchMock) Patch(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethod(http.MethodPatch), matcher, response, options)
}

// PatchOnce adds a PATCH route that serves a single call.
func (m *FetchMock) PatchOnce(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(withMethodOnce(http.MethodPatch), matcher, response, options)
}

// Once adds a route that serves a single call.
func (m *FetchMock) Once(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(once, matcher, response, options)
}

// Sticky adds a route that survives RemoveRoutes unless IncludeSticky is set.
func (m *FetchMock) Sticky(matcher, response any, options ...RouteConfig) error {
	return m.shorthand(sticky, matcher, response, options)
}

// Any adds a route matching every call.
func (m *FetchMock) Any(response any, options ...RouteConfig) error {
	return m.Route("*", response, options...)
}

// AnyOnce adds a route matching the next call only.
func (m *FetchMock) AnyOnce(response any, options ...RouteConfig) error {
	return m.shorthand(once, "*", response, options)
}

// Catch sets the fallback used when no route matches. Without a response the
// fallback answers 200 "ok".
func (m *FetchMock) Catch(response ...any) error {
	var res any
	if len(response) > 0 {
		res = response[0]
	}
	return m.router.setFallback(res)
}

// Spy sends matching calls to the configured Transport. A nil matcher spies
// on every call no route matches.
func (m *FetchMock) Spy(matcher any, options ...RouteConfig) error {
	passthrough := FuncResponse(func(call *CallLog) any {
		req, err := call.passthroughRequest()
		if err != nil {
			return err
		}
		resp, err := m.config.Transport.RoundTrip(req)
		if err != nil {
			return err
		}
		return resp
	})

	if matcher == nil && len(options) == 0 {
		return m.router.setFallback(passthrough)
	}
	return m.Route(matcher, passthrough, options...)
}

// RemoveRoutes removes the routes selected by opts.
func (m *FetchMock) RemoveRoutes(opts RemoveOptions) {
	m.router.removeRoutes(opts)
}

// RemoveRoute removes a single route, sticky or not.
func (m *FetchMock) RemoveRoute(name string) {
	m.router.removeRoutes(RemoveOptions{Names: []string{name}, IncludeSticky: true, KeepFallback: true})
}

// ModifyRoute rebuilds a route from its configuration after update has
// changed it. Names and stickiness cannot change; sticky routes cannot be modified.
func (m *FetchMock) ModifyRoute(name string, update func(cfg *RouteConfig)) error {
	_, err := m.router.modifyRoute(name, update)
	return err
}

// Routes returns the registered routes in match order, without the fallback.
func (m *FetchMock) Routes() []*Route {
	routes, _ := m.router.snapshot()
	return routes
}

// CreateInstance returns an independent copy with the same routes and an
// empty history.
func (m *FetchMock) CreateInstance() *FetchMock {
	r := m.router.clone()
	return &FetchMock{
		config:      m.config,
		router:      r,
		CallHistory: &CallHistory{router: r, log: m.config.Logger},
	}
}

// ClearHistory clears the call history and resets repeat counters.
func (m *FetchMock) ClearHistory() {
	m.CallHistory.Clear()
}

var _ http.RoundTripper = (*FetchMock)(nil)
