// Package application provides route dispatch at the top of the pipeline:
// requests are matched to handlers and answered; responses are matched to
// pending callbacks.
package application

import (
	"encoding/json"

	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/stack/presentation"
)

// Request is an application-level request record.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Response is an application-level response record.
type Response struct {
	StatusCode    int               `json:"status_code"`
	StatusMessage string            `json:"status_message"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
}

// Handler produces a response for a request.
type Handler func(Request) Response

// Callback consumes the response to a previously sent request.
type Callback func(Response)

// Layer is the application layer. It owns the route table and the
// pending-callback table.
type Layer struct {
	stack.Neighbors

	isServer  bool
	routes    map[string]Handler
	callbacks map[string]Callback

	sessionID  string
	remoteAddr string
	remotePort int
}

func NewLayer(isServer bool) *Layer {
	return &Layer{
		isServer:  isServer,
		routes:    make(map[string]Handler),
		callbacks: make(map[string]Callback),
	}
}

func (l *Layer) Name() string { return "application" }

// SetRemote pins the remote endpoint used for outbound requests.
func (l *Layer) SetRemote(addr string, port int) {
	l.remoteAddr = addr
	l.remotePort = port
}

// AddRoute registers a handler for a path.
func (l *Layer) AddRoute(path string, h Handler) {
	l.routes[path] = h
}

// HandleRequest dispatches a request to its route handler, or answers 404.
func (l *Layer) HandleRequest(req Request) Response {
	if h, ok := l.routes[req.Path]; ok {
		return h(req)
	}
	return Response{
		StatusCode:    404,
		StatusMessage: "Not Found",
		Headers:       map[string]string{"Content-Type": "text/plain"},
		Body:          "404 Not Found",
	}
}

// SendRequest sends a request down the stack, registering cb to receive the
// response. Pending callbacks are keyed by path.
func (l *Layer) SendRequest(req Request, cb Callback) {
	log := logging.Layer("application")
	if l.isServer {
		log.Warn().Msg("cannot send request, this is a server")
		return
	}

	log.Info().Str("method", req.Method).Str("path", req.Path).Msg("sending request")
	if cb != nil {
		l.callbacks[req.Path] = cb
	}

	b, err := json.Marshal(req)
	if err != nil {
		log.Error().Err(err).Msg("request encode failed")
		return
	}
	observability.RecordSent("application")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, stack.Metadata{
			DataFormat: presentation.FormatJSON,
			SessionID:  l.sessionID,
			RemoteAddr: l.remoteAddr,
			RemotePort: l.remotePort,
		})
	}
}

// SendResponse sends a response down the stack.
func (l *Layer) SendResponse(resp Response) {
	log := logging.Layer("application")
	if !l.isServer {
		log.Warn().Msg("cannot send response, this is a client")
		return
	}

	log.Info().Int("status", resp.StatusCode).Str("message", resp.StatusMessage).Msg("sending response")
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("response encode failed")
		return
	}
	observability.RecordSent("application")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, stack.Metadata{
			DataFormat: presentation.FormatJSON,
			SessionID:  l.sessionID,
		})
	}
}

func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	if lower := l.Lower(); lower != nil {
		lower.SendDown(data, md)
	}
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("application")

	if l.sessionID == "" {
		l.sessionID = md.SessionID
	}

	if md.DataFormat != presentation.FormatJSON {
		log.Debug().Int("bytes", len(data)).Msg("received data")
		return
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Warn().Err(err).Msg("malformed record, discarding")
		observability.RecordDrop("application", "malformed")
		return
	}

	switch {
	case hasKeys(probe, "method", "path"):
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn().Err(err).Msg("malformed request, discarding")
			observability.RecordDrop("application", "malformed")
			return
		}
		observability.RecordReceived("application")
		log.Info().Str("method", req.Method).Str("path", req.Path).Msg("received request")
		l.SendResponse(l.HandleRequest(req))

	case hasKeys(probe, "status_code", "status_message"):
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warn().Err(err).Msg("malformed response, discarding")
			observability.RecordDrop("application", "malformed")
			return
		}
		observability.RecordReceived("application")
		log.Info().Int("status", resp.StatusCode).Str("message", resp.StatusMessage).Msg("received response")
		l.dispatchResponse("", resp)

	default:
		log.Debug().Msg("record is neither request nor response")
	}
}

// dispatchResponse invokes the pending callback for the response exactly
// once: the callback registered under path when one exists, otherwise an
// arbitrary single pending callback is popped. Responses do not carry their
// request path, so the fallback is the common case.
func (l *Layer) dispatchResponse(path string, resp Response) {
	if cb, ok := l.callbacks[path]; ok {
		delete(l.callbacks, path)
		cb(resp)
		return
	}
	for p, cb := range l.callbacks {
		delete(l.callbacks, p)
		cb(resp)
		return
	}
}

func hasKeys(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
