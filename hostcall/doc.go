/*
Package hostcall serves the Tarmac httpclient capability from a FetchMock.

Tarmac functions make HTTP requests through a waPC host call: the guest sends a
protobuf HTTPClient message to the "httpclient" capability's "call" function
and decodes the HTTPClientResponse that comes back. A Host answers those calls
from declared fetchmock routes, so guest code and its tests run without a real
runtime or network:

	fm := fetchmock.New(fetchmock.Config{})
	_ = fm.Get("https://example.com/", "hello")

	host, _ := hostcall.New(hostcall.Config{Fetcher: fm})
	payload, _ := (&proto.HTTPClient{Method: "GET", Url: "https://example.com/"}).MarshalVT()
	reply, _ := host.HostCall("tarmac", "httpclient", "call", payload)

Guest clients built with a HostCall override, such as the Tarmac SDK's
httpclient, can be given host.HostCall directly.

Requests that fail in fetchmock, for example when no route matches, are
reported through the response Status with code 500, as the Tarmac runtime does.
*/
package hostcall
