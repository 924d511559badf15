package fetchmock

import "errors"

// Configuration errors are returned synchronously when a route is registered or modified.
var (
	// ErrReservedName is returned when a route uses one of the names reserved for call filtering.
	ErrReservedName = errors.New("route name is reserved")

	// ErrMissingResponse indicates a route was declared without a response.
	ErrMissingResponse = errors.New("each route must define a response")

	// ErrNoCriteria indicates a route has nothing to match calls against.
	ErrNoCriteria = errors.New(`each route must specify some criteria for matching calls, to match all calls use "*"`)

	// ErrDuplicateName is returned when adding a route whose name is already registered.
	ErrDuplicateName = errors.New("a route with the same name already exists")

	// ErrRouteNotFound is returned when modifying a route that does not exist.
	ErrRouteNotFound = errors.New("route not found")

	// ErrStickyRoute is returned when modifying a sticky route.
	ErrStickyRoute = errors.New("route is sticky and cannot be modified")

	// ErrRenameRoute is returned when a modification attempts to change a route's name.
	ErrRenameRoute = errors.New("renaming routes is not supported")

	// ErrStickinessChange is returned when a modification attempts to toggle stickiness.
	ErrStickinessChange = errors.New("altering the stickiness of a route is not supported")

	// ErrParamsWithoutExpress is returned when params are matched without an express: URL pattern.
	ErrParamsWithoutExpress = errors.New("matching on params is only possible when using an express: url pattern")

	// ErrInvalidURLMatcher indicates an unsupported or malformed URL pattern.
	ErrInvalidURLMatcher = errors.New("invalid url matcher")

	// ErrInvalidMatcher indicates a matcher definition that cannot be registered.
	ErrInvalidMatcher = errors.New("invalid matcher definition")
)

// Dispatch errors are returned from Fetch and RoundTrip for the call that caused them.
var (
	// ErrInvalidHeader indicates a malformed request header name or value.
	ErrInvalidHeader = errors.New("invalid request header")

	// ErrCredentialsInURL indicates the request URL embeds a username or password.
	ErrCredentialsInURL = errors.New("request cannot be constructed from a url that includes credentials")

	// ErrBodyNotAllowed indicates a GET or HEAD request carrying a body.
	ErrBodyNotAllowed = errors.New("request with GET/HEAD method cannot have body")

	// ErrRelativeURL indicates a relative URL was fetched while AllowRelativeURLs is off.
	ErrRelativeURL = errors.New("relative urls are not supported unless AllowRelativeURLs is set")

	// ErrInvalidInput indicates Fetch was called with an unsupported input value.
	ErrInvalidInput = errors.New("unsupported fetch input")

	// ErrNoMatch is returned when neither a route nor a fallback matched the call.
	ErrNoMatch = errors.New("no response or fallback rule")

	// ErrInvalidStatus indicates a response status outside 200-599.
	ErrInvalidStatus = errors.New("invalid response status")

	// ErrInvalidResponse indicates a response value that cannot be turned into a response.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAborted is returned when the call's context ends before or during dispatch.
	ErrAborted = errors.New("the operation was aborted")
)
