package fixtures

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/tarmac-project/fetchmock"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDecode wraps YAML decoding failures.
	ErrDecode = errors.New("failed to decode fixtures")

	// ErrApply wraps failures while registering a fixture route.
	ErrApply = errors.New("failed to apply fixture")
)

// File is the top-level document of a fixtures file.
type File struct {
	Routes   []Route   `yaml:"routes"`
	Fallback *Response `yaml:"fallback"`
}

// Route declares one fetchmock route.
type Route struct {
	Name             string            `yaml:"name"`
	URL              string            `yaml:"url"`
	URLRegexp        string            `yaml:"urlRegexp"`
	Method           string            `yaml:"method"`
	Headers          map[string]any    `yaml:"headers"`
	MissingHeaders   []string          `yaml:"missingHeaders"`
	Query            map[string]any    `yaml:"query"`
	Params           map[string]string `yaml:"params"`
	Body             any               `yaml:"body"`
	MatchPartialBody bool              `yaml:"matchPartialBody"`
	JSONPath         map[string]any    `yaml:"jsonPath"`
	Repeat           int               `yaml:"repeat"`
	Delay            Duration          `yaml:"delay"`
	Sticky           bool              `yaml:"sticky"`
	Response         *Response         `yaml:"response"`
}

// Response declares a route's response.
type Response struct {
	Status      int               `yaml:"status"`
	Headers     map[string]string `yaml:"headers"`
	Body        any               `yaml:"body"`
	RedirectURL string            `yaml:"redirectUrl"`
	Error       string            `yaml:"error"`
}

// Duration accepts Go duration strings such as "300ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load decodes a fixtures document. Unknown fields are rejected.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &f, nil
}

// LoadFile decodes the fixtures file at path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(bytes.NewReader(b))
}

// Apply registers every route, in order, then the fallback.
func (f *File) Apply(fm *fetchmock.FetchMock) error {
	for i, r := range f.Routes {
		cfg, err := r.config()
		if err != nil {
			return fmt.Errorf("%w: route %d: %w", ErrApply, i, err)
		}
		if err := fm.Route(cfg, nil); err != nil {
			return fmt.Errorf("%w: route %d: %w", ErrApply, i, err)
		}
	}

	if f.Fallback != nil {
		if err := fm.Catch(f.Fallback.response()); err != nil {
			return fmt.Errorf("%w: fallback: %w", ErrApply, err)
		}
	}
	return nil
}

func (r Route) config() (fetchmock.RouteConfig, error) {
	cfg := fetchmock.RouteConfig{
		Name:             r.Name,
		Method:           r.Method,
		Headers:          r.Headers,
		MissingHeaders:   r.MissingHeaders,
		Query:            r.Query,
		Params:           r.Params,
		Body:             r.Body,
		MatchPartialBody: r.MatchPartialBody,
		JSONPath:         r.JSONPath,
		Repeat:           r.Repeat,
		Delay:            time.Duration(r.Delay),
		Sticky:           r.Sticky,
	}

	switch {
	case r.URL != "" && r.URLRegexp != "":
		return cfg, fmt.Errorf("%w: url and urlRegexp are exclusive", fetchmock.ErrInvalidURLMatcher)
	case r.URLRegexp != "":
		re, err := regexp.Compile(r.URLRegexp)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", fetchmock.ErrInvalidURLMatcher, err)
		}
		cfg.URL = re
	case r.URL != "":
		cfg.URL = r.URL
	}

	if r.Response != nil {
		cfg.Response = r.Response.response()
	}
	return cfg, nil
}

func (r *Response) response() fetchmock.ConfigResponse {
	out := fetchmock.ConfigResponse{
		Status:      r.Status,
		Body:        r.Body,
		RedirectURL: r.RedirectURL,
	}
	if len(r.Headers) > 0 {
		out.Header = make(http.Header, len(r.Headers))
		for k, v := range r.Headers {
			out.Header.Set(k, v)
		}
	}
	if r.Error != "" {
		out.Throws = errors.New(r.Error)
	}
	return out
}
