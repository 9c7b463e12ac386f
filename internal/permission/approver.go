package permission

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opencode-ai/agentcore/internal/event"
)

// Approver resolves ASK verdicts. Implementations must return when ctx is
// done.
type Approver interface {
	RequestApproval(ctx context.Context, req Request) (Response, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (Response, error)

func (f ApproverFunc) RequestApproval(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// PolicyApprover answers every request without a human: Tools overrides
// Default per tool name. An empty Default rejects.
type PolicyApprover struct {
	Default Response
	Tools   map[string]Response
}

func (p PolicyApprover) RequestApproval(ctx context.Context, req Request) (Response, error) {
	if r, ok := p.Tools[req.Tool]; ok {
		return r, nil
	}
	if p.Default == "" {
		return ResponseReject, nil
	}
	return p.Default, nil
}

// BusApprover publishes each request as a permission.asked event and waits
// for Respond.
type BusApprover struct {
	bus     *event.Bus
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	req Request
	ch  chan Response
}

// NewBusApprover creates an approver publishing on bus, or on the default
// bus when bus is nil.
func NewBusApprover(bus *event.Bus) *BusApprover {
	if bus == nil {
		bus = event.Default()
	}
	return &BusApprover{bus: bus, pending: make(map[string]*pendingRequest)}
}

func (a *BusApprover) RequestApproval(ctx context.Context, req Request) (Response, error) {
	p := &pendingRequest{req: req, ch: make(chan Response, 1)}
	a.mu.Lock()
	a.pending[req.ID] = p
	a.mu.Unlock()

	a.bus.Publish(event.Event{
		Type: event.PermissionAsked,
		Data: event.PermissionAskedData{
			ID:        req.ID,
			SessionID: req.SessionID,
			MessageID: req.MessageID,
			CallID:    req.CallID,
			Tool:      req.Tool,
			Patterns:  req.Patterns,
			Title:     req.Title,
		},
	})

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-ctx.Done():
		a.mu.Lock()
		_, still := a.pending[req.ID]
		delete(a.pending, req.ID)
		a.mu.Unlock()
		if still {
			a.bus.Publish(event.Event{
				Type: event.PermissionResolved,
				Data: event.PermissionResolvedData{ID: req.ID, SessionID: req.SessionID, Response: "timeout"},
			})
		}
		return "", ctx.Err()
	}
}

// Respond resolves a pending request. sessionID may be empty to skip the
// ownership check.
func (a *BusApprover) Respond(sessionID, requestID string, resp Response) error {
	if !resp.Valid() {
		return &InvalidResponseError{Response: string(resp)}
	}

	a.mu.Lock()
	p, ok := a.pending[requestID]
	if !ok || (sessionID != "" && p.req.SessionID != sessionID) {
		a.mu.Unlock()
		return ErrRequestNotFound
	}
	delete(a.pending, requestID)
	a.mu.Unlock()

	p.ch <- resp
	a.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: requestID, SessionID: p.req.SessionID, Response: string(resp)},
	})
	return nil
}

// Pending lists unresolved requests, oldest first.
func (a *BusApprover) Pending() []Request {
	a.mu.Lock()
	out := make([]Request, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p.req)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InvalidResponseError is returned by Respond for an unknown response value.
type InvalidResponseError struct {
	Response string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid permission response %q", e.Response)
}
