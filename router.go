package fetchmock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tarmac-project/fetchmock/logging"
	"github.com/tarmac-project/fetchmock/metrics"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
)

// RemoveOptions selects the routes removed by RemoveRoutes.
type RemoveOptions struct {
	// Names restricts removal to these routes. Empty means every route.
	Names []string

	// IncludeSticky removes sticky routes too.
	IncludeSticky bool

	// KeepFallback leaves the fallback in place. Otherwise it is removed as
	// well, also when removing by name.
	KeepFallback bool
}

type router struct {
	mu       sync.RWMutex
	routes   []*Route
	fallback *Route

	opts    routeOptions
	log     logging.Client
	metrics *metrics.Recorder
}

func (r *router) addRoute(cfg RouteConfig) (*Route, error) {
	route, err := newRoute(cfg, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if name := route.Name(); name != "" {
		for _, existing := range r.routes {
			if existing.Name() == name {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
			}
		}
	}
	r.routes = append(r.routes, route)
	return route, nil
}

func (r *router) setFallback(response any) error {
	if response == nil {
		response = "ok"
	}
	route, err := newRoute(RouteConfig{URL: "*", Response: response}, r.opts)
	if err != nil {
		return err
	}
	route.fallback = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback != nil {
		r.log.Warn("calling Catch or Spy without a matcher more than once overwrites the previous fallback response")
	}
	r.fallback = route
	return nil
}

func (r *router) removeRoutes(opts RemoveOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.routes[:0]
	for _, route := range r.routes {
		remove := opts.IncludeSticky || !route.sticky()
		if len(opts.Names) > 0 && !slices.Contains(opts.Names, route.Name()) {
			remove = false
		}
		if !remove {
			kept = append(kept, route)
		}
	}
	clear(r.routes[len(kept):])
	r.routes = kept

	if !opts.KeepFallback {
		r.fallback = nil
	}
}

func (r *router) modifyRoute(name string, update func(*RouteConfig)) (*Route, error) {
	route := r.find(name)
	if route == nil {
		return nil, fmt.Errorf("%w: cannot modify route %q", ErrRouteNotFound, name)
	}
	if route.sticky() {
		return nil, fmt.Errorf("%w: %q", ErrStickyRoute, name)
	}

	cfg := route.Config()
	if update != nil {
		update(&cfg)
	}
	if cfg.Name != name {
		return nil, fmt.Errorf("%w: %q", ErrRenameRoute, name)
	}
	if cfg.Sticky {
		return nil, fmt.Errorf("%w: %q", ErrStickinessChange, name)
	}
	if err := route.init(cfg); err != nil {
		return nil, err
	}
	return route, nil
}

func (r *router) find(name string) *Route {
	if name == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if route.Name() == name {
			return route
		}
	}
	return nil
}

func (r *router) snapshot() ([]*Route, *Route) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes), r.fallback
}

func (r *router) clone() *router {
	routes, fallback := r.snapshot()
	child := &router{opts: r.opts, log: r.log, metrics: r.metrics}
	for _, route := range routes {
		child.routes = append(child.routes, route.clone())
	}
	if fallback != nil {
		child.fallback = fallback.clone()
	}
	return child
}

// execute dispatches call and waits for the result or for ctx to end. The
// returned completion settles once dispatch is over.
func (r *router) execute(ctx context.Context, call *CallLog, done *completion) (*http.Response, error) {
	defer r.metrics.TrackInflight()()
	start := time.Now()

	if err := validateCall(call); err != nil {
		done.settle()
		r.metrics.ObserveCall("", metrics.ResultError, time.Since(start))
		return nil, err
	}

	if ctx.Err() != nil {
		call.closeBody()
		done.settle()
		r.metrics.ObserveCall("", metrics.ResultAborted, time.Since(start))
		return nil, abortError(ctx)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		defer done.settle()
		resp, err := r.dispatch(ctx, call)
		results <- result{resp, err}
	}()

	select {
	case res := <-results:
		r.metrics.ObserveCall(routeLabel(call.Route()), resultLabel(call, res.err), time.Since(start))
		return res.resp, res.err

	case <-ctx.Done():
		call.closeBody()
		// a blocked response func or matcher must not hold up Flush
		done.settle()
		go func() {
			if res := <-results; res.resp != nil {
				_ = res.resp.Body.Close()
			}
		}()
		r.metrics.ObserveCall(routeLabel(call.Route()), metrics.ResultAborted, time.Since(start))
		return nil, abortError(ctx)
	}
}

func (r *router) dispatch(ctx context.Context, call *CallLog) (*http.Response, error) {
	routes, fallback := r.snapshot()
	if fallback != nil {
		routes = append(routes, fallback)
	}

	for _, route := range routes {
		if route.UsesBody() {
			if _, err := call.Body(); err != nil {
				return nil, err
			}
			break
		}
	}

	var matched *Route
	for _, route := range routes {
		if route.match(call) {
			matched = route
			break
		}
	}
	if matched == nil {
		method := strings.ToUpper(call.Options.Method)
		if method == "" {
			method = http.MethodGet
		}
		r.log.Debug("no route matched call", zap.String("id", call.ID), zap.String("method", method), zap.String("url", call.URL))
		return nil, fmt.Errorf("%w, to match %s to %s", ErrNoMatch, method, call.URL)
	}

	call.setRoute(matched)
	r.log.Debug("route matched call", zap.String("id", call.ID), zap.String("route", matched.Name()), zap.String("url", call.URL))

	response, includeContentLength := matched.currentResponse()
	resolved, err := resolveResponse(ctx, call, response)
	if err != nil {
		return nil, err
	}

	var (
		resp     *http.Response
		redirect string
	)
	switch v := resolved.(type) {
	case RawResponse:
		resp = v.Response
	case ConfigResponse:
		if v.Throws != nil {
			return nil, v.Throws
		}
		resp, err = buildResponse(v, includeContentLength)
		if err != nil {
			return nil, err
		}
		redirect = v.RedirectURL
	}

	resp = observe(ctx, call, resp, redirect)
	call.setResponse(resp)
	return resp, nil
}

// validateCall applies the checks a real request constructor would.
func validateCall(call *CallLog) error {
	for name, values := range call.Options.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: value for %q", ErrInvalidHeader, name)
			}
		}
	}

	if u, err := url.Parse(call.URL); err == nil && u.User != nil {
		return fmt.Errorf("%w: %s", ErrCredentialsInURL, u.Redacted())
	}

	switch call.Options.Method {
	case "", "get", "head":
		if call.hasBody() {
			return ErrBodyNotAllowed
		}
	}
	return nil
}

func routeLabel(route *Route) string {
	switch {
	case route == nil:
		return ""
	case route.IsFallback():
		return "fallback"
	default:
		return route.Name()
	}
}

func resultLabel(call *CallLog, err error) string {
	switch {
	case call.Route() == nil:
		return metrics.ResultUnmatched
	case err != nil:
		return metrics.ResultError
	default:
		return metrics.ResultMatched
	}
}
