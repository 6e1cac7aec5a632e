// Package bridge terminates the WebSocket endpoints: one for the game
// server agent, one for player clients. It authenticates connections,
// applies per-connection rate limits, and feeds frames to the dispatch
// engine.
package bridge

// Frame kinds a client may send.
const (
	KindAuth    = "auth"
	KindCommand = "command"
	KindEvent   = "event"
	KindSocket  = "socket"
)

// Request is one inbound JSON frame.
type Request struct {
	// ID correlates the response. Empty for fire-and-forget events.
	ID string `json:"id,omitempty"`
	// Kind selects the operation class.
	Kind string `json:"kind"`
	// Path addresses a command, e.g. ["weather", "set"].
	Path []string `json:"path,omitempty"`
	// Name addresses an event or socket topic.
	Name string `json:"name,omitempty"`
	// Params carries arguments, payloads, or credentials.
	Params map[string]any `json:"params,omitempty"`
}

// Response is one outbound JSON reply, correlated by request id.
type Response struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	// Code is the stable machine-readable failure class.
	Code string `json:"code,omitempty"`
}

// Push is a server-initiated message outside any request/response pair.
type Push struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func ok(id string, result any) Response {
	return Response{ID: id, Success: true, Result: result}
}

func fail(id string, err error, code string) Response {
	return Response{ID: id, Success: false, Error: err.Error(), Code: code}
}
