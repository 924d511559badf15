package fetchmock

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"

	"github.com/google/go-cmp/cmp"
)

// normalizeJSON round-trips v through JSON so expected values compare against
// decoded bodies: structs become maps and numbers become float64.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseCallBody decodes the request body as multipart form data when the
// content type says so, and as JSON otherwise.
func parseCallBody(call *CallLog) (any, bool) {
	body, err := call.Body()
	if err != nil || len(body) == 0 {
		return nil, false
	}

	if mediaType, params, err := mime.ParseMediaType(call.Options.Header.Get("Content-Type")); err == nil &&
		mediaType == "multipart/form-data" {
		form, err := parseMultipart(body, params["boundary"])
		if err != nil {
			return nil, false
		}
		return form, true
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false
	}
	return out, true
}

// parseMultipart returns form fields as strings, or as a list when a field repeats.
func parseMultipart(body []byte, boundary string) (map[string]any, error) {
	if boundary == "" {
		return nil, errors.New("missing multipart boundary")
	}

	form := make(map[string]any)
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return nil, err
		}

		value, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}

		name := part.FormName()
		switch existing := form[name].(type) {
		case nil:
			form[name] = string(value)
		case []any:
			form[name] = append(existing, string(value))
		default:
			form[name] = []any{existing, string(value)}
		}
	}
}

// isSubset reports whether expected is contained in actual. Objects match
// when every expected key matches; arrays match when the expected items
// appear in actual in the same order, gaps allowed.
func isSubset(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, ev := range e {
			av, ok := a[key]
			if !ok || !isSubset(ev, av) {
				return false
			}
		}
		return true

	case []any:
		a, ok := actual.([]any)
		if !ok {
			return false
		}
		i := 0
		for _, ev := range e {
			for i < len(a) && !isSubset(ev, a[i]) {
				i++
			}
			if i == len(a) {
				return false
			}
			i++
		}
		return true

	default:
		return cmp.Equal(expected, actual)
	}
}
