package fetchmock

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
)

// MatcherFunc reports whether a call satisfies one criterion of a route.
type MatcherFunc func(call *CallLog) bool

// MatcherDefinition describes a user-defined matching criterion. Routes opt in
// by setting RouteConfig.Custom[Name].
type MatcherDefinition struct {
	// Name is the key looked up in RouteConfig.Custom.
	Name string

	// Matcher builds the criterion for a route. Returning a nil MatcherFunc
	// leaves the route unconstrained by this criterion.
	Matcher func(cfg RouteConfig) (MatcherFunc, error)

	// UsesBody marks criteria that read the request body.
	UsesBody bool
}

type routeOptions struct {
	allowRelative        bool
	matchPartialBody     bool
	disableContentLength bool
}

type matcherEntry struct {
	name     string
	present  func(cfg RouteConfig) bool
	build    func(cfg RouteConfig, opts routeOptions) (MatcherFunc, error)
	usesBody bool
}

var registry = struct {
	sync.RWMutex
	entries []matcherEntry
}{
	entries: []matcherEntry{
		{"query", func(c RouteConfig) bool { return c.Query != nil }, queryMatcher, false},
		{"method", func(c RouteConfig) bool { return c.Method != "" }, methodMatcher, false},
		{"headers", func(c RouteConfig) bool { return c.Headers != nil }, headersMatcher, false},
		{"missingHeaders", func(c RouteConfig) bool { return c.MissingHeaders != nil }, missingHeadersMatcher, false},
		{"params", func(c RouteConfig) bool { return c.Params != nil }, paramsMatcher, false},
		{"body", func(c RouteConfig) bool { return c.Body != nil }, bodyMatcher, true},
		{"jsonPath", func(c RouteConfig) bool { return c.JSONPath != nil }, jsonPathMatcher, true},
		{"function", func(c RouteConfig) bool { return c.MatcherFunction != nil }, functionMatcher, false},
		{"url", func(c RouteConfig) bool { return c.URL != nil }, urlMatcher, false},
	},
}

// DefineMatcher registers a criterion available to every route created
// afterwards.
func DefineMatcher(def MatcherDefinition) error {
	if def.Name == "" || def.Matcher == nil {
		return fmt.Errorf("%w: name and matcher are required", ErrInvalidMatcher)
	}

	registry.Lock()
	defer registry.Unlock()
	for _, e := range registry.entries {
		if e.name == def.Name {
			return fmt.Errorf("%w: %q is already defined", ErrInvalidMatcher, def.Name)
		}
	}

	name, build := def.Name, def.Matcher
	registry.entries = append(registry.entries, matcherEntry{
		name: name,
		present: func(c RouteConfig) bool {
			_, ok := c.Custom[name]
			return ok
		},
		build: func(c RouteConfig, _ routeOptions) (MatcherFunc, error) {
			return build(c)
		},
		usesBody: def.UsesBody,
	})
	return nil
}

func matcherEntries() []matcherEntry {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Clone(registry.entries)
}

func hasCriteria(cfg RouteConfig) bool {
	for _, e := range matcherEntries() {
		if e.present(cfg) {
			return true
		}
	}
	return false
}

// compileMatcher builds the AND of every criterion present on cfg.
func compileMatcher(cfg RouteConfig, opts routeOptions) (MatcherFunc, bool, error) {
	var (
		active   []MatcherFunc
		usesBody bool
	)
	for _, e := range matcherEntries() {
		if !e.present(cfg) {
			continue
		}
		fn, err := e.build(cfg, opts)
		if err != nil {
			return nil, false, err
		}
		if fn == nil {
			continue
		}
		active = append(active, fn)
		usesBody = usesBody || e.usesBody
	}
	if len(active) == 0 {
		return nil, false, ErrNoCriteria
	}
	return allOf(active), usesBody, nil
}

func allOf(matchers []MatcherFunc) MatcherFunc {
	return func(call *CallLog) bool {
		for _, m := range matchers {
			if !m(call) {
				return false
			}
		}
		return true
	}
}

func methodMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	want := strings.ToLower(cfg.Method)
	return func(call *CallLog) bool {
		got := call.Options.Method
		if got == "" {
			got = "get"
		}
		return got == want
	}, nil
}

func queryMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	type expectation struct {
		values []string
		multi  bool
	}

	expected := make(map[string]expectation, len(cfg.Query))
	for key, v := range cfg.Query {
		var e expectation
		switch vv := v.(type) {
		case []string:
			e = expectation{values: slices.Clone(vv), multi: true}
		case []any:
			e.multi = true
			for _, item := range vv {
				e.values = append(e.values, queryValue(item))
			}
		default:
			e.values = []string{queryValue(v)}
		}
		sort.Strings(e.values)
		expected[key] = e
	}

	return func(call *CallLog) bool {
		for key, e := range expected {
			actual := slices.Clone(call.Query[key])
			sort.Strings(actual)
			if len(actual) != len(e.values) {
				return false
			}
			if !slices.Equal(actual, e.values) {
				return false
			}
		}
		return true
	}, nil
}

// queryValue coerces an expected query value to its string form.
func queryValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(vv)
	case float32:
		return strconv.FormatFloat(float64(vv), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case fmt.Stringer:
		return vv.String()
	default:
		return ""
	}
}

func headersMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	expected := make(map[string][]string, len(cfg.Headers))
	for name, v := range cfg.Headers {
		expected[http.CanonicalHeaderKey(name)] = headerValues(v)
	}

	return func(call *CallLog) bool {
		for name, want := range expected {
			got := call.Options.Header.Values(name)
			if len(got) == 0 {
				return false
			}
			if !slices.Equal(got, want) && strings.Join(got, ", ") != strings.Join(want, ", ") {
				return false
			}
		}
		return true
	}, nil
}

func headerValues(v any) []string {
	switch vv := v.(type) {
	case nil:
		return []string{""}
	case string:
		return []string{vv}
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(vv)}
	}
}

func missingHeadersMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	names := slices.Clone(cfg.MissingHeaders)
	return func(call *CallLog) bool {
		for _, name := range names {
			if len(call.Options.Header.Values(name)) > 0 {
				return false
			}
		}
		return true
	}, nil
}

func paramsMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	pattern, ok := expressSource(cfg.URL)
	if !ok {
		return nil, ErrParamsWithoutExpress
	}
	p, err := compileExpress(pattern)
	if err != nil {
		return nil, err
	}

	want := make(map[string]string, len(cfg.Params))
	for k, v := range cfg.Params {
		want[k] = v
	}
	return func(call *CallLog) bool {
		params, ok := call.expressParams(p)
		if !ok {
			return false
		}
		for k, v := range want {
			if params[k] != v {
				return false
			}
		}
		return true
	}, nil
}

func expressSource(u any) (string, bool) {
	switch v := u.(type) {
	case string:
		return strings.CutPrefix(v, "express:")
	case URLMatcher:
		return v.Express, v.Express != ""
	case *URLMatcher:
		if v != nil {
			return v.Express, v.Express != ""
		}
	}
	return "", false
}

func bodyMatcher(cfg RouteConfig, opts routeOptions) (MatcherFunc, error) {
	expected, err := normalizeJSON(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body criterion: %w", ErrInvalidMatcher, err)
	}
	partial := cfg.MatchPartialBody || opts.matchPartialBody

	return func(call *CallLog) bool {
		switch call.Options.Method {
		case "", "get", "head", "delete":
			return false
		}
		sent, ok := parseCallBody(call)
		if !ok {
			return false
		}
		if partial {
			return isSubset(expected, sent)
		}
		return cmp.Equal(expected, sent)
	}, nil
}

func jsonPathMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	expected := make(map[string]any, len(cfg.JSONPath))
	for path, v := range cfg.JSONPath {
		n, err := normalizeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%w: json path %q: %w", ErrInvalidMatcher, path, err)
		}
		expected[path] = n
	}

	return func(call *CallLog) bool {
		body, err := call.Body()
		if err != nil || !gjson.ValidBytes(body) {
			return false
		}
		for path, want := range expected {
			res := gjson.GetBytes(body, path)
			if !res.Exists() || !cmp.Equal(want, res.Value()) {
				return false
			}
		}
		return true
	}, nil
}

func functionMatcher(cfg RouteConfig, _ routeOptions) (MatcherFunc, error) {
	return MatcherFunc(cfg.MatcherFunction), nil
}
