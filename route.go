package fetchmock

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// RouteConfig declares how calls are matched and answered.
type RouteConfig struct {
	// Name identifies the route for history filtering, removal and modification.
	Name string

	// URL is a string pattern, *regexp.Regexp, URLMatcher or *url.URL.
	URL any

	// Method matches the request method, case-insensitively.
	Method string

	// Headers maps header names to a value or a list of values.
	Headers map[string]any

	// MissingHeaders lists headers that must be absent.
	MissingHeaders []string

	// Query maps query keys to a value or a list of values.
	Query map[string]any

	// Params matches values extracted by an express: URL pattern.
	Params map[string]string

	// Body matches the decoded request body.
	Body any

	// MatchPartialBody accepts bodies that contain Body rather than equal it.
	MatchPartialBody bool

	// JSONPath maps gjson paths to the values expected at them in the request body.
	JSONPath map[string]any

	// MatcherFunction is an arbitrary predicate on the call.
	MatcherFunction func(call *CallLog) bool

	// Custom holds criteria registered with DefineMatcher.
	Custom map[string]any

	// Response is any value accepted by NormalizeResponse.
	Response any

	// Repeat limits how many calls the route serves. Zero is unlimited.
	Repeat int

	// Delay postpones the response.
	Delay time.Duration

	// Sticky routes survive RemoveRoutes unless IncludeSticky is set, and
	// cannot be modified.
	Sticky bool
}

func (c RouteConfig) clone() RouteConfig {
	c.Headers = maps.Clone(c.Headers)
	c.MissingHeaders = slices.Clone(c.MissingHeaders)
	c.Query = maps.Clone(c.Query)
	c.Params = maps.Clone(c.Params)
	c.JSONPath = maps.Clone(c.JSONPath)
	c.Custom = maps.Clone(c.Custom)
	return c
}

// mergeRouteConfig overlays the non-zero fields of overlay onto base.
func mergeRouteConfig(base, overlay RouteConfig) RouteConfig {
	if overlay.Name != "" {
		base.Name = overlay.Name
	}
	if overlay.URL != nil {
		base.URL = overlay.URL
	}
	if overlay.Method != "" {
		base.Method = overlay.Method
	}
	if overlay.Headers != nil {
		base.Headers = overlay.Headers
	}
	if overlay.MissingHeaders != nil {
		base.MissingHeaders = overlay.MissingHeaders
	}
	if overlay.Query != nil {
		base.Query = overlay.Query
	}
	if overlay.Params != nil {
		base.Params = overlay.Params
	}
	if overlay.Body != nil {
		base.Body = overlay.Body
	}
	if overlay.MatchPartialBody {
		base.MatchPartialBody = true
	}
	if overlay.JSONPath != nil {
		base.JSONPath = overlay.JSONPath
	}
	if overlay.MatcherFunction != nil {
		base.MatcherFunction = overlay.MatcherFunction
	}
	if overlay.Custom != nil {
		merged := maps.Clone(base.Custom)
		if merged == nil {
			merged = make(map[string]any, len(overlay.Custom))
		}
		maps.Copy(merged, overlay.Custom)
		base.Custom = merged
	}
	if overlay.Response != nil {
		base.Response = overlay.Response
	}
	if overlay.Repeat != 0 {
		base.Repeat = overlay.Repeat
	}
	if overlay.Delay != 0 {
		base.Delay = overlay.Delay
	}
	if overlay.Sticky {
		base.Sticky = true
	}
	return base
}

// Route is a compiled RouteConfig.
type Route struct {
	mu        sync.Mutex
	config    RouteConfig
	opts      routeOptions
	fallback  bool
	matcher   MatcherFunc
	usesBody  bool
	response  Response
	timesLeft int
}

func newRoute(cfg RouteConfig, opts routeOptions) (*Route, error) {
	r := &Route{opts: opts}
	if err := r.init(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// init compiles cfg and swaps it in only when every step succeeds.
func (r *Route) init(cfg RouteConfig) error {
	cfg = cfg.clone()

	// sanitize
	cfg.Method = strings.ToLower(cfg.Method)
	if cfg.Repeat < 0 {
		cfg.Repeat = 0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	// validate
	if cfg.Name == "matched" || cfg.Name == "unmatched" {
		return fmt.Errorf("%w: %q", ErrReservedName, cfg.Name)
	}
	if cfg.Response == nil {
		return fmt.Errorf("%w: %s", ErrMissingResponse, describeRoute(cfg))
	}
	if !hasCriteria(cfg) {
		return ErrNoCriteria
	}

	matcher, usesBody, err := compileMatcher(cfg, r.opts)
	if err != nil {
		return err
	}

	response, err := NormalizeResponse(cfg.Response)
	if err != nil {
		return err
	}
	if cfg.Delay > 0 {
		response = delayed(response, cfg.Delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
	r.matcher = matcher
	r.usesBody = usesBody
	r.response = response
	r.timesLeft = cfg.Repeat
	return nil
}

// delayed wraps res so it is only delivered after d.
func delayed(res Response, d time.Duration) Response {
	return FuncResponse(func(*CallLog) any {
		ch := make(chan any, 1)
		time.AfterFunc(d, func() { ch <- res })
		return DeferredResponse(ch)
	})
}

func describeRoute(cfg RouteConfig) string {
	if cfg.Name != "" {
		return fmt.Sprintf("route %q", cfg.Name)
	}
	return fmt.Sprintf("route matching %v", cfg.URL)
}

// match evaluates the route against call, consuming one use of a repeat
// limited route on success.
func (r *Route) match(call *CallLog) bool {
	r.mu.Lock()
	matcher, limited := r.matcher, r.config.Repeat > 0
	if limited && r.timesLeft <= 0 {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if !matcher(call) {
		return false
	}
	if !limited {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timesLeft <= 0 {
		return false
	}
	r.timesLeft--
	return true
}

// matches evaluates the criteria only, leaving the repeat counter alone.
func (r *Route) matches(call *CallLog) bool {
	r.mu.Lock()
	matcher := r.matcher
	r.mu.Unlock()
	return matcher(call)
}

// Reset restores the repeat counter.
func (r *Route) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timesLeft = r.config.Repeat
}

// Name returns the route name.
func (r *Route) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Name
}

// Config returns a copy of the route's configuration.
func (r *Route) Config() RouteConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.clone()
}

// UsesBody reports whether matching reads the request body.
func (r *Route) UsesBody() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usesBody
}

// IsFallback reports whether the route was set with Catch or a nil Spy matcher.
func (r *Route) IsFallback() bool {
	return r.fallback
}

func (r *Route) sticky() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Sticky
}

func (r *Route) currentResponse() (Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response, !r.opts.disableContentLength
}

// clone copies the compiled route, including the current counter.
func (r *Route) clone() *Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Route{
		config:    r.config.clone(),
		opts:      r.opts,
		fallback:  r.fallback,
		matcher:   r.matcher,
		usesBody:  r.usesBody,
		response:  r.response,
		timesLeft: r.timesLeft,
	}
}
