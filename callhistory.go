package fetchmock

import (
	"context"
	"net/http"
	"regexp"
	"slices"
	"sync"

	"github.com/tarmac-project/fetchmock/logging"
	"go.uber.org/zap"
)

var routeName = regexp.MustCompile(`^[\da-zA-Z\-]+$`)

// CallHistory records every call handled by a FetchMock.
type CallHistory struct {
	mu     sync.Mutex
	calls  []*CallLog
	router *router
	log    logging.Client
}

func (h *CallHistory) record(call *CallLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *CallHistory) snapshot() []*CallLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// Calls returns the recorded calls selected by filter, in call order.
//
// filter may be nil (every call), a bool (true for matched calls, false for
// unmatched ones), "matched" or "unmatched", a route name, a URL pattern
// accepted by RouteConfig.URL, or a RouteConfig. Options are merged into the
// criteria and evaluated like a route that never runs out.
func (h *CallHistory) Calls(filter any, options ...RouteConfig) ([]*CallLog, error) {
	calls := h.snapshot()

	var criteria RouteConfig
	for _, o := range options {
		criteria = mergeRouteConfig(criteria, o)
	}
	adHoc := len(options) > 0

	switch f := filter.(type) {
	case nil:
	case bool:
		calls = filterByMatched(calls, f)
	case string:
		switch {
		case f == "matched" || f == "unmatched":
			calls = filterByMatched(calls, f == "matched")
		case routeName.MatchString(f):
			calls = slices.DeleteFunc(calls, func(c *CallLog) bool {
				r := c.Route()
				return r == nil || r.Name() != f
			})
		default:
			criteria = mergeRouteConfig(RouteConfig{URL: f}, criteria)
			adHoc = true
		}
	case RouteConfig:
		criteria = mergeRouteConfig(f, criteria)
		adHoc = true
	case *RouteConfig:
		if f != nil {
			criteria = mergeRouteConfig(*f, criteria)
			adHoc = true
		}
	case func(*CallLog) bool:
		criteria = mergeRouteConfig(RouteConfig{MatcherFunction: f}, criteria)
		adHoc = true
	default:
		criteria = mergeRouteConfig(RouteConfig{URL: f}, criteria)
		adHoc = true
	}

	if !adHoc {
		return calls, nil
	}

	criteria.Name = ""
	criteria.Repeat = 0
	criteria.Delay = 0
	criteria.Response = StatusResponse(http.StatusOK)
	route, err := newRoute(criteria, h.router.opts)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(calls, func(c *CallLog) bool {
		return !route.matches(c)
	}), nil
}

func filterByMatched(calls []*CallLog, matched bool) []*CallLog {
	return slices.DeleteFunc(calls, func(c *CallLog) bool {
		r := c.Route()
		isMatched := r != nil && !r.IsFallback()
		return isMatched != matched
	})
}

// Called reports whether any recorded call passes the filter.
func (h *CallHistory) Called(filter any, options ...RouteConfig) (bool, error) {
	calls, err := h.Calls(filter, options...)
	if err != nil {
		return false, err
	}
	return len(calls) > 0, nil
}

// LastCall returns the most recent call passing the filter, or nil.
func (h *CallHistory) LastCall(filter any, options ...RouteConfig) (*CallLog, error) {
	calls, err := h.Calls(filter, options...)
	if err != nil || len(calls) == 0 {
		return nil, err
	}
	return calls[len(calls)-1], nil
}

// Done reports whether the named routes, or every route when no names are
// given, were called, and called as many times as their Repeat when set.
// Each shortfall is logged as a warning.
func (h *CallHistory) Done(names ...string) bool {
	routes, _ := h.router.snapshot()
	if len(names) > 0 {
		routes = slices.DeleteFunc(routes, func(r *Route) bool {
			return !slices.Contains(names, r.Name())
		})
	}

	calls := h.snapshot()
	done := true
	for _, route := range routes {
		count := 0
		for _, c := range calls {
			if c.Route() == route {
				count++
			}
		}

		name := route.Name()
		if count == 0 {
			h.log.Warn("route not called", zap.String("route", name))
			done = false
			continue
		}
		if expected := route.Config().Repeat; expected > 0 && count < expected {
			h.log.Warn("route called fewer times than expected",
				zap.String("route", name),
				zap.Int("expected", expected),
				zap.Int("actual", count),
			)
			done = false
		}
	}
	return done
}

// Flush waits for every recorded call to finish dispatching and for every
// body read already started on their responses. With waitForBodyReads it
// keeps waiting until no new reads were started meanwhile. Failed calls count
// as finished. It only returns an error when ctx ends first.
func (h *CallHistory) Flush(ctx context.Context, waitForBodyReads bool) error {
	for {
		var pending []*completion
		for _, call := range h.snapshot() {
			pending = append(pending, call.unsettled()...)
		}
		if len(pending) == 0 {
			return nil
		}

		for _, p := range pending {
			select {
			case <-p.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !waitForBodyReads {
			return nil
		}
	}
}

// Clear forgets every recorded call and resets every route's repeat counter.
func (h *CallHistory) Clear() {
	h.mu.Lock()
	calls := h.calls
	h.calls = nil
	h.mu.Unlock()

	routes, fallback := h.router.snapshot()
	for _, route := range routes {
		route.Reset()
	}
	if fallback != nil {
		fallback.Reset()
	}
	for _, call := range calls {
		if route := call.Route(); route != nil {
			route.Reset()
		}
	}
}
