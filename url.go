package fetchmock

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ryanuber/go-glob"
)

// URLMatcher combines several URL criteria; every non-empty field must match.
type URLMatcher struct {
	Begin   string
	End     string
	Include string
	Glob    string
	Express string
	Path    string
	Host    string
	Regexp  *regexp.Regexp
}

var absoluteURL = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// NormalizeURL returns the canonical form of rawURL used for matching.
//
// Absolute URLs get a lower-case scheme and host, no default port, a "/" path
// when empty and resolved dot segments. Protocol-relative URLs stay
// protocol-relative. Relative URLs resolve against the root and are only
// accepted when allowRelative is set.
func NormalizeURL(rawURL string, allowRelative bool) (string, error) {
	return normalizeURL(rawURL, allowRelative)
}

func normalizeURL(rawURL string, allowRelative bool) (string, error) {
	switch {
	case absoluteURL.MatchString(rawURL):
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return canonicalURL(u), nil

	case strings.HasPrefix(rawURL, "//"):
		u, err := url.Parse("http:" + rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return strings.TrimPrefix(canonicalURL(u), "http:"), nil

	case allowRelative:
		ref, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		base := &url.URL{Scheme: "http", Host: "dummy", Path: "/"}
		u := base.ResolveReference(ref)
		out := u.EscapedPath()
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrRelativeURL, rawURL)
	}
}

func canonicalURL(u *url.URL) string {
	if u.Opaque != "" {
		return u.String()
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host += ":" + port
	}
	u.Host = host

	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	u.Path = removeDotSegments(u.Path)
	u.RawPath = ""
	return u.String()
}

// removeDotSegments resolves "." and ".." path segments.
func removeDotSegments(p string) string {
	if !strings.Contains(p, ".") {
		return p
	}
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case ".":
			if last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// urlPrefixes are tried in order against string patterns.
var urlPrefixes = []struct {
	prefix string
	build  func(pattern string) (MatcherFunc, error)
}{
	{"begin:", beginMatcher},
	{"end:", endMatcher},
	{"include:", includeMatcher},
	{"glob:", globMatcher},
	{"express:", expressMatcher},
	{"path:", pathMatcher},
	{"host:", hostMatcher},
}

func urlMatcher(cfg RouteConfig, opts routeOptions) (MatcherFunc, error) {
	switch v := cfg.URL.(type) {
	case string:
		return stringURLMatcher(v, len(cfg.Query) > 0, opts.allowRelative)
	case *regexp.Regexp:
		if v == nil {
			return nil, fmt.Errorf("%w: nil regexp", ErrInvalidURLMatcher)
		}
		return func(call *CallLog) bool {
			return v.MatchString(call.URL)
		}, nil
	case *url.URL:
		if v == nil {
			return nil, fmt.Errorf("%w: nil url", ErrInvalidURLMatcher)
		}
		return fullURLMatcher(v.String(), len(cfg.Query) > 0, opts.allowRelative)
	case URLMatcher:
		return structURLMatcher(v)
	case *URLMatcher:
		if v == nil {
			return nil, fmt.Errorf("%w: nil URLMatcher", ErrInvalidURLMatcher)
		}
		return structURLMatcher(*v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidURLMatcher, cfg.URL)
	}
}

func stringURLMatcher(pattern string, hasQuery, allowRelative bool) (MatcherFunc, error) {
	if pattern == "*" {
		return func(*CallLog) bool { return true }, nil
	}
	for _, p := range urlPrefixes {
		if strings.HasPrefix(pattern, p.prefix) {
			return p.build(strings.TrimPrefix(pattern, p.prefix))
		}
	}
	return fullURLMatcher(pattern, hasQuery, allowRelative)
}

func structURLMatcher(m URLMatcher) (MatcherFunc, error) {
	fields := []struct {
		value string
		build func(string) (MatcherFunc, error)
	}{
		{m.Begin, beginMatcher},
		{m.End, endMatcher},
		{m.Include, includeMatcher},
		{m.Glob, globMatcher},
		{m.Express, expressMatcher},
		{m.Path, pathMatcher},
		{m.Host, hostMatcher},
	}

	var matchers []MatcherFunc
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fn, err := f.build(f.value)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, fn)
	}
	if m.Regexp != nil {
		re := m.Regexp
		matchers = append(matchers, func(call *CallLog) bool {
			return re.MatchString(call.URL)
		})
	}
	if len(matchers) == 0 {
		return nil, fmt.Errorf("%w: empty URLMatcher", ErrInvalidURLMatcher)
	}
	return allOf(matchers), nil
}

func fullURLMatcher(pattern string, hasQuery, allowRelative bool) (MatcherFunc, error) {
	expected, err := normalizeURL(pattern, allowRelative)
	if err != nil {
		return nil, err
	}
	if hasQuery && !strings.Contains(expected, "?") {
		return func(call *CallLog) bool {
			return strings.HasPrefix(call.URL, expected)
		}, nil
	}
	return func(call *CallLog) bool {
		return call.URL == expected
	}, nil
}

func beginMatcher(pattern string) (MatcherFunc, error) {
	return func(call *CallLog) bool {
		return strings.HasPrefix(call.URL, pattern)
	}, nil
}

func endMatcher(pattern string) (MatcherFunc, error) {
	return func(call *CallLog) bool {
		return strings.HasSuffix(call.URL, pattern)
	}, nil
}

func includeMatcher(pattern string) (MatcherFunc, error) {
	return func(call *CallLog) bool {
		return strings.Contains(call.URL, pattern)
	}, nil
}

func globMatcher(pattern string) (MatcherFunc, error) {
	return func(call *CallLog) bool {
		return glob.Glob(pattern, call.URL)
	}, nil
}

func expressMatcher(pattern string) (MatcherFunc, error) {
	p, err := compileExpress(pattern)
	if err != nil {
		return nil, err
	}
	return func(call *CallLog) bool {
		_, ok := call.expressParams(p)
		return ok
	}, nil
}

func pathMatcher(pattern string) (MatcherFunc, error) {
	dotless := removeDotSegments(pattern)
	return func(call *CallLog) bool {
		p := pathOf(call.URL)
		return p == pattern || p == dotless
	}, nil
}

func hostMatcher(pattern string) (MatcherFunc, error) {
	return func(call *CallLog) bool {
		return strings.EqualFold(hostOf(call.URL), pattern)
	}, nil
}

// expressPattern is a compiled express-style route such as /users/:id.
type expressPattern struct {
	source string
	re     *regexp.Regexp
	keys   []string
}

// compileExpress turns :name, :name? and * segments into capture groups.
func compileExpress(pattern string) (*expressPattern, error) {
	var (
		b    strings.Builder
		keys []string
	)

	segments := strings.Split(pattern, "/")
	if segments[0] == "" {
		segments = segments[1:]
	}

	for _, seg := range segments {
		switch {
		case seg == "*":
			keys = append(keys, "wild")
			b.WriteString(`/(.*)`)

		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			name := seg[1:]
			ext := ""
			if i := strings.Index(name, "."); i > 0 {
				name, ext = name[:i], name[i:]
			}
			optional := strings.HasSuffix(name, "?")
			name = strings.TrimSuffix(name, "?")
			keys = append(keys, name)

			if optional && ext == "" {
				b.WriteString(`(?:/([^/]+?))?`)
				continue
			}
			b.WriteString(`/([^/]+?)`)
			if ext != "" {
				if optional {
					b.WriteString("?")
				}
				b.WriteString(regexp.QuoteMeta(ext))
			}

		default:
			b.WriteString("/" + regexp.QuoteMeta(seg))
		}
	}

	re, err := regexp.Compile(`(?i)^` + b.String() + `/?$`)
	if err != nil {
		return nil, fmt.Errorf("%w: express pattern %q: %w", ErrInvalidURLMatcher, pattern, err)
	}
	return &expressPattern{source: pattern, re: re, keys: keys}, nil
}

// match extracts params from path, returning false when the path does not match.
func (p *expressPattern) match(path string) (map[string]string, bool) {
	groups := p.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(p.keys))
	for i, key := range p.keys {
		value := groups[i+1]
		if value == "" {
			continue
		}
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		params[key] = value
	}
	return params, true
}
