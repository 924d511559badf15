/*
Package fetchmock intercepts HTTP calls and answers them from declared routes
instead of the network.

A FetchMock is an http.RoundTripper. Routes pair match criteria with a response
and are evaluated in registration order; the first match wins, followed by the
optional fallback set with Catch. Every call is recorded in the CallHistory so
tests can assert on what was fetched once the code under test is done.

Quick start

	fm := fetchmock.New(fetchmock.Config{})
	_ = fm.Get("begin:http://api.example.com/users", map[string]any{"id": 1})
	_ = fm.Catch(404)

	client := fm.Client()
	resp, err := client.Get("http://api.example.com/users/1")

	_ = fm.CallHistory.Flush(ctx, true)
	called, _ := fm.CallHistory.Called("http://api.example.com/users/1")

Responses

A response may be a status code, a string or []byte body, any other value
(encoded as JSON), a ConfigResponse describing status, headers, body, redirect
or error, an *http.Response used as-is, a function of the CallLog, or a channel
delivering any of these later. NormalizeResponse documents the exact priority
used to tell these shapes apart.

Matching

URL patterns accept "*", full URLs, the begin:, end:, include:, glob:,
express:, path: and host: prefixes, regular expressions and URLMatcher values.
Method, Headers, MissingHeaders, Query, Params, Body, JSONPath and
MatcherFunction narrow a route further. DefineMatcher adds new criteria.
*/
package fetchmock
