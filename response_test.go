package fetchmock

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeResponse(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	raw := &http.Response{StatusCode: 201}
	fn := func(*CallLog) any { return 200 }
	ch := make(chan any)

	tt := []struct {
		name  string
		input any
		check func(t *testing.T, r Response)
	}{
		{
			name:  "status",
			input: 404,
			check: func(t *testing.T, r Response) { assert.Equal(t, StatusResponse(404), r) },
		},
		{
			name:  "unsigned status",
			input: uint16(204),
			check: func(t *testing.T, r Response) { assert.Equal(t, StatusResponse(204), r) },
		},
		{
			name:  "string body",
			input: "hello",
			check: func(t *testing.T, r Response) { assert.Equal(t, BodyResponse{Body: "hello"}, r) },
		},
		{
			name:  "error throws",
			input: boom,
			check: func(t *testing.T, r Response) { assert.Equal(t, ConfigResponse{Throws: boom}, r) },
		},
		{
			name:  "raw response",
			input: raw,
			check: func(t *testing.T, r Response) { assert.Same(t, raw, r.(RawResponse).Response) },
		},
		{
			name:  "function",
			input: fn,
			check: func(t *testing.T, r Response) { assert.IsType(t, FuncResponse(nil), r) },
		},
		{
			name:  "channel",
			input: ch,
			check: func(t *testing.T, r Response) { assert.IsType(t, DeferredResponse(nil), r) },
		},
		{
			name:  "config shaped map",
			input: map[string]any{"status": 201, "body": "x", "headers": map[string]any{"X-A": "b"}, "redirectUrl": "http://b.com/"},
			check: func(t *testing.T, r Response) {
				cfg, ok := r.(ConfigResponse)
				require.True(t, ok)
				assert.Equal(t, 201, cfg.Status)
				assert.Equal(t, "x", cfg.Body)
				assert.Equal(t, "b", cfg.Header.Get("X-A"))
				assert.Equal(t, "http://b.com/", cfg.RedirectURL)
			},
		},
		{
			name:  "config pointer",
			input: &ConfigResponse{Status: 202},
			check: func(t *testing.T, r Response) { assert.Equal(t, ConfigResponse{Status: 202}, r) },
		},
		{
			name:  "struct is a json body",
			input: struct{ ID int }{ID: 1},
			check: func(t *testing.T, r Response) { assert.IsType(t, BodyResponse{}, r) },
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NormalizeResponse(tc.input)
			require.NoError(t, err)
			tc.check(t, r)
		})
	}

	_, err := NormalizeResponse(nil)
	assert.ErrorIs(t, err, ErrMissingResponse)
}

func TestNormalizeResponseMapShape(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name  string
		input map[string]any
		want  Response
	}{
		{name: "status only", input: map[string]any{"status": 201}, want: ConfigResponse{Status: 201}},
		{name: "status with extra keys", input: map[string]any{"status": 201, "data": "x"}, want: ConfigResponse{Status: 201}},
		{name: "body with extra keys", input: map[string]any{"body": "x", "id": 1}, want: ConfigResponse{Body: "x"}},
		{name: "headers", input: map[string]any{"headers": map[string]string{"x-a": "b"}}, want: ConfigResponse{Header: http.Header{"X-A": {"b"}}}},
		{name: "throws", input: map[string]any{"throws": boom}, want: ConfigResponse{Throws: boom}},
		{name: "redirect", input: map[string]any{"redirectUrl": "http://b.com/", "other": true}, want: ConfigResponse{RedirectURL: "http://b.com/"}},
		{name: "no config keys", input: map[string]any{"id": 1, "name": "ada"}, want: BodyResponse{Body: map[string]any{"id": 1, "name": "ada"}}},
		{name: "empty map", input: map[string]any{}, want: BodyResponse{Body: map[string]any{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NormalizeResponse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, r)
		})
	}
}

func TestConfigShapedMapKeepsStatus(t *testing.T) {
	t.Parallel()

	fm := newMock(t, Config{})
	require.NoError(t, fm.Any(map[string]any{"status": 201, "data": "x"}))

	resp := fetch(t, fm, "http://a.com/", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, readAll(t, resp))
}

func TestBuildResponse(t *testing.T) {
	t.Parallel()

	t.Run("defaults to 200", func(t *testing.T) {
		t.Parallel()

		resp, err := buildResponse(ConfigResponse{}, true)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "200 OK", resp.Status)
		assert.Equal(t, "0", resp.Header.Get("Content-Length"))
	})

	t.Run("rejects out of range status", func(t *testing.T) {
		t.Parallel()

		for _, status := range []int{100, 199, 600, -1} {
			_, err := buildResponse(ConfigResponse{Status: status}, true)
			assert.ErrorIs(t, err, ErrInvalidStatus, "status %d", status)
		}
	})

	t.Run("json body", func(t *testing.T) {
		t.Parallel()

		resp, err := buildResponse(ConfigResponse{Body: map[string]any{"a": 1}}, true)
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(b))
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Equal(t, "7", resp.Header.Get("Content-Length"))
	})

	t.Run("keeps declared content type and length", func(t *testing.T) {
		t.Parallel()

		header := http.Header{}
		header.Set("content-type", "application/vnd.api+json")
		header.Set("content-length", "99")
		resp, err := buildResponse(ConfigResponse{Body: []int{1}, Header: header}, true)
		require.NoError(t, err)
		assert.Equal(t, "application/vnd.api+json", resp.Header.Get("Content-Type"))
		assert.Equal(t, "99", resp.Header.Get("Content-Length"))
	})

	t.Run("declared length is found in any case", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			header http.Header
		}{
			{name: "lower case", header: http.Header{"content-length": {"5"}}},
			{name: "upper case", header: http.Header{"CONTENT-LENGTH": {"5"}}},
			{name: "canonical", header: http.Header{"Content-Length": {"5"}}},
		}

		for _, tc := range tests {
			resp, err := buildResponse(ConfigResponse{Body: "hello", Header: tc.header}, true)
			require.NoError(t, err, tc.name)
			assert.Equal(t, http.Header{"Content-Length": {"5"}}, resp.Header, tc.name)
		}
	})

	t.Run("declared content type is found in any case", func(t *testing.T) {
		t.Parallel()

		header := http.Header{"content-type": {"text/csv"}}
		resp, err := buildResponse(ConfigResponse{Body: []int{1}, Header: header}, false)
		require.NoError(t, err)
		assert.Equal(t, http.Header{"Content-Type": {"text/csv"}}, resp.Header)
		assert.Equal(t, http.Header{"content-type": {"text/csv"}}, header, "the declared header is not modified")
	})

	t.Run("string body is not json", func(t *testing.T) {
		t.Parallel()

		resp, err := buildResponse(ConfigResponse{Body: "plain"}, false)
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("Content-Type"))
		assert.Empty(t, resp.Header.Get("Content-Length"))
		assert.EqualValues(t, 5, resp.ContentLength)
	})
}

func TestResolveResponse(t *testing.T) {
	t.Parallel()

	call := newTestCall(t, "http://a.com/", nil)

	t.Run("functions and channels chain", func(t *testing.T) {
		t.Parallel()

		ch := make(chan any, 1)
		ch <- map[string]any{"status": 201}
		res, err := resolveResponse(context.Background(), call, FuncResponse(func(*CallLog) any { return ch }))
		require.NoError(t, err)
		assert.Equal(t, ConfigResponse{Status: 201}, res)
	})

	t.Run("deferred response honours cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := resolveResponse(ctx, call, DeferredResponse(make(chan any)))
		assert.ErrorIs(t, err, ErrAborted)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed channel", func(t *testing.T) {
		t.Parallel()

		ch := make(chan any)
		close(ch)
		_, err := resolveResponse(context.Background(), call, DeferredResponse(ch))
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}
