package fetchmock

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileFor(t *testing.T, cfg RouteConfig) MatcherFunc {
	t.Helper()
	fn, _, err := compileMatcher(cfg, routeOptions{})
	require.NoError(t, err)
	return fn
}

func TestMethodMatcher(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name   string
		route  string
		method string
		want   bool
	}{
		{name: "case insensitive", route: "POST", method: "post", want: true},
		{name: "missing method means get", route: "get", method: "", want: true},
		{name: "mismatch", route: "put", method: "POST", want: false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fn := compileFor(t, RouteConfig{URL: "*", Method: tc.route})
			call := newTestCall(t, "http://a.com/", &RequestInit{Method: tc.method})
			assert.Equal(t, tc.want, fn(call))
		})
	}
}

func TestQueryMatcher(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name  string
		query map[string]any
		url   string
		want  bool
	}{
		{name: "single value", query: map[string]any{"a": "1"}, url: "http://a.com/?a=1", want: true},
		{name: "numbers are coerced", query: map[string]any{"a": 1, "b": 2.5}, url: "http://a.com/?b=2.5&a=1", want: true},
		{name: "bools are coerced", query: map[string]any{"flag": true}, url: "http://a.com/?flag=true", want: true},
		{name: "nil is empty", query: map[string]any{"a": nil}, url: "http://a.com/?a=", want: true},
		{name: "repeated keys in any order", query: map[string]any{"a": []any{"x", "y"}}, url: "http://a.com/?a=y&a=x", want: true},
		{name: "repeated keys count", query: map[string]any{"a": []string{"x"}}, url: "http://a.com/?a=y&a=x", want: false},
		{name: "single value against repeated key", query: map[string]any{"a": "x"}, url: "http://a.com/?a=x&a=y", want: false},
		{name: "missing key", query: map[string]any{"a": "1"}, url: "http://a.com/?b=1", want: false},
		{name: "extra keys ignored", query: map[string]any{"a": "1"}, url: "http://a.com/?a=1&b=2", want: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fn := compileFor(t, RouteConfig{Query: tc.query})
			assert.Equal(t, tc.want, fn(newTestCall(t, tc.url, nil)))
		})
	}
}

func TestHeadersMatcher(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name     string
		expected map[string]any
		sent     http.Header
		want     bool
	}{
		{name: "case insensitive names", expected: map[string]any{"a": "b"}, sent: http.Header{"A": {"b"}}, want: true},
		{name: "non canonical sent names", expected: map[string]any{"X-API-KEY": "k"}, sent: http.Header{"x-api-key": {"k"}}, want: true},
		{name: "value mismatch", expected: map[string]any{"a": "b"}, sent: http.Header{"A": {"c"}}, want: false},
		{name: "missing header", expected: map[string]any{"a": "b"}, sent: http.Header{}, want: false},
		{name: "multiple values", expected: map[string]any{"a": []string{"b", "c"}}, sent: http.Header{"A": {"b", "c"}}, want: true},
		{name: "multiple values joined", expected: map[string]any{"a": []string{"b", "c"}}, sent: http.Header{"A": {"b, c"}}, want: true},
		{name: "number coerced", expected: map[string]any{"x-count": 3}, sent: http.Header{"X-Count": {"3"}}, want: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fn := compileFor(t, RouteConfig{URL: "*", Headers: tc.expected})
			call := newTestCall(t, "http://a.com/", &RequestInit{Header: tc.sent})
			assert.Equal(t, tc.want, fn(call))
		})
	}
}

func TestMissingHeadersMatcher(t *testing.T) {
	t.Parallel()

	fn := compileFor(t, RouteConfig{URL: "*", MissingHeaders: []string{"authorization"}})
	assert.True(t, fn(newTestCall(t, "http://a.com/", nil)))
	assert.False(t, fn(newTestCall(t, "http://a.com/", &RequestInit{Header: http.Header{"Authorization": {"x"}}})))
}

func TestParamsMatcher(t *testing.T) {
	t.Parallel()

	fn := compileFor(t, RouteConfig{URL: "express:/users/:id", Params: map[string]string{"id": "42"}})

	call := newTestCall(t, "http://a.com/users/42", nil)
	assert.True(t, fn(call))
	assert.Equal(t, map[string]string{"id": "42"}, call.Params())

	assert.False(t, fn(newTestCall(t, "http://a.com/users/7", nil)))

	_, _, err := compileMatcher(RouteConfig{URL: "begin:http://a.com", Params: map[string]string{"id": "1"}}, routeOptions{})
	assert.ErrorIs(t, err, ErrParamsWithoutExpress)
}

func TestBodyMatcher(t *testing.T) {
	t.Parallel()

	sent := `{"a":1,"b":{"c":2,"d":[1,2,3]},"e":"x"}`
	jsonHeader := http.Header{"Content-Type": {"application/json"}}

	tt := []struct {
		name    string
		method  string
		body    any
		partial bool
		want    bool
	}{
		{name: "exact", method: "POST", body: map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": []int{1, 2, 3}}, "e": "x"}, want: true},
		{name: "exact rejects subset", method: "POST", body: map[string]any{"a": 1}, want: false},
		{name: "partial subset", method: "POST", body: map[string]any{"b": map[string]any{"c": 2}}, partial: true, want: true},
		{name: "partial ordered array subset", method: "POST", body: map[string]any{"b": map[string]any{"d": []int{1, 3}}}, partial: true, want: true},
		{name: "partial out of order array", method: "POST", body: map[string]any{"b": map[string]any{"d": []int{3, 1}}}, partial: true, want: false},
		{name: "partial value mismatch", method: "POST", body: map[string]any{"e": "y"}, partial: true, want: false},
		{name: "struct bodies", method: "PUT", body: struct {
			E string `json:"e"`
		}{E: "x"}, partial: true, want: true},
		{name: "delete never matches", method: "DELETE", body: map[string]any{"a": 1}, partial: true, want: false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fn := compileFor(t, RouteConfig{URL: "*", Body: tc.body, MatchPartialBody: tc.partial})
			call := newTestCall(t, "http://a.com/", &RequestInit{Method: tc.method, Header: jsonHeader, Body: sent})
			assert.Equal(t, tc.want, fn(call))
		})
	}
}

func TestBodyMatcherGlobalPartial(t *testing.T) {
	t.Parallel()

	fn, usesBody, err := compileMatcher(RouteConfig{URL: "*", Body: map[string]any{"a": 1}}, routeOptions{matchPartialBody: true})
	require.NoError(t, err)
	assert.True(t, usesBody)

	call := newTestCall(t, "http://a.com/", &RequestInit{Method: "POST", Body: `{"a":1,"b":2}`})
	assert.True(t, fn(call))
}

func TestBodyMatcherMultipart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "ada"))
	require.NoError(t, w.WriteField("tag", "a"))
	require.NoError(t, w.WriteField("tag", "b"))
	require.NoError(t, w.Close())

	fn := compileFor(t, RouteConfig{URL: "*", Body: map[string]any{"name": "ada", "tag": []string{"a", "b"}}})
	call := newTestCall(t, "http://a.com/", &RequestInit{
		Method: "POST",
		Header: http.Header{"Content-Type": {w.FormDataContentType()}},
		Body:   buf.Bytes(),
	})
	assert.True(t, fn(call))
}

func TestJSONPathMatcher(t *testing.T) {
	t.Parallel()

	fn := compileFor(t, RouteConfig{URL: "*", JSONPath: map[string]any{
		"user.name":    "ada",
		"user.roles.#": 2,
		"user.roles.0": "admin",
	}})

	ok := newTestCall(t, "http://a.com/", &RequestInit{Method: "POST", Body: `{"user":{"name":"ada","roles":["admin","dev"]}}`})
	assert.True(t, fn(ok))

	missing := newTestCall(t, "http://a.com/", &RequestInit{Method: "POST", Body: `{"user":{"name":"ada"}}`})
	assert.False(t, fn(missing))

	invalid := newTestCall(t, "http://a.com/", &RequestInit{Method: "POST", Body: `not json`})
	assert.False(t, fn(invalid))
}

func TestMatchersCompose(t *testing.T) {
	t.Parallel()

	base := RouteConfig{URL: "begin:http://a.com"}
	narrowed := RouteConfig{URL: "begin:http://a.com", Method: "post"}

	calls := []*CallLog{
		newTestCall(t, "http://a.com/x", &RequestInit{Method: "POST"}),
		newTestCall(t, "http://a.com/x", nil),
		newTestCall(t, "http://b.com/x", &RequestInit{Method: "POST"}),
	}

	baseFn, narrowFn := compileFor(t, base), compileFor(t, narrowed)
	methodFn := compileFor(t, RouteConfig{Method: "post"})
	for i, call := range calls {
		assert.Equal(t, baseFn(call) && methodFn(call), narrowFn(call), "call %d", i)
		if narrowFn(call) {
			assert.True(t, baseFn(call), "call %d widened the match set", i)
		}
	}
}

func TestFunctionMatcher(t *testing.T) {
	t.Parallel()

	fn := compileFor(t, RouteConfig{MatcherFunction: func(call *CallLog) bool {
		return strings.HasSuffix(call.URL, "/yes")
	}})
	assert.True(t, fn(newTestCall(t, "http://a.com/yes", nil)))
	assert.False(t, fn(newTestCall(t, "http://a.com/no", nil)))
}

func TestCompileMatcherNoCriteria(t *testing.T) {
	t.Parallel()

	_, _, err := compileMatcher(RouteConfig{Response: 200}, routeOptions{})
	assert.ErrorIs(t, err, ErrNoCriteria)
}

func TestDefineMatcher(t *testing.T) {
	t.Parallel()

	err := DefineMatcher(MatcherDefinition{
		Name: "tenant",
		Matcher: func(cfg RouteConfig) (MatcherFunc, error) {
			want, ok := cfg.Custom["tenant"].(string)
			if !ok {
				return nil, errors.New("tenant must be a string")
			}
			return func(call *CallLog) bool {
				return call.Options.Header.Get("X-Tenant") == want
			}, nil
		},
	})
	require.NoError(t, err)

	fn := compileFor(t, RouteConfig{Custom: map[string]any{"tenant": "acme"}})
	assert.True(t, fn(newTestCall(t, "http://a.com/", &RequestInit{Header: http.Header{"X-Tenant": {"acme"}}})))
	assert.False(t, fn(newTestCall(t, "http://a.com/", nil)))

	_, _, err = compileMatcher(RouteConfig{Custom: map[string]any{"tenant": 1}}, routeOptions{})
	assert.Error(t, err)

	err = DefineMatcher(MatcherDefinition{Name: "tenant", Matcher: func(RouteConfig) (MatcherFunc, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrInvalidMatcher)

	err = DefineMatcher(MatcherDefinition{Name: "query", Matcher: func(RouteConfig) (MatcherFunc, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrInvalidMatcher)

	err = DefineMatcher(MatcherDefinition{Name: "nothing"})
	assert.ErrorIs(t, err, ErrInvalidMatcher)
}

func TestIsSubset(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{name: "scalars", expected: 1.0, actual: 1.0, want: true},
		{name: "nested objects", expected: map[string]any{"a": map[string]any{"b": 1.0}}, actual: map[string]any{"a": map[string]any{"b": 1.0, "c": 2.0}}, want: true},
		{name: "ordered with gaps", expected: []any{1.0, 3.0}, actual: []any{1.0, 2.0, 3.0}, want: true},
		{name: "out of order", expected: []any{3.0, 1.0}, actual: []any{1.0, 2.0, 3.0}, want: false},
		{name: "repeated items need repeated matches", expected: []any{1.0, 1.0}, actual: []any{1.0, 2.0}, want: false},
		{name: "objects inside arrays", expected: []any{map[string]any{"id": 2.0}}, actual: []any{map[string]any{"id": 1.0}, map[string]any{"id": 2.0, "x": true}}, want: true},
		{name: "type mismatch", expected: map[string]any{}, actual: []any{}, want: false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isSubset(tc.expected, tc.actual))
		})
	}
}
