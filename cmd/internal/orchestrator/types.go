package orchestrator

import "context"

// Request is what the client asks admission for.
type Request struct {
	Room     string
	Identity string
	Code     string
}

// Endpoint is a transport URL and the credential for it.
type Endpoint struct {
	URL   string
	Token string
}

// Grant is a successful admission. Both credentials are minted up front so failover
// needs no further admission round trip.
type Grant struct {
	Primary  Endpoint
	Fallback *Endpoint
}

// Admission is the server-side admission surface.
type Admission interface {
	Request(ctx context.Context, req Request) (Grant, error)
	Renew(ctx context.Context, code string) error
}

// EventKind classifies transport events.
type EventKind int

const (
	// EventDisconnected reports an unexpected loss of the link. A Disconnect call never produces it.
	EventDisconnected EventKind = iota + 1
	// EventMediaError reports a non-fatal media problem.
	EventMediaError
)

// Event is emitted by a Transport. URL identifies the link it belongs to.
type Event struct {
	Kind EventKind
	URL  string
	Err  error
}

// Transport is the opaque media endpoint.
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	Disconnect(ctx context.Context) error
	Events() <-chan Event
}

// Media re-applies local device state (camera, microphone) after a connect.
type Media interface {
	Restore(ctx context.Context) error
}

// Beacon delivers a release for code without waiting and without depending on the caller's context.
type Beacon interface {
	Send(code string)
}

// NopBeacon drops releases; leases then expire through the server timeout.
type NopBeacon struct{}

func (NopBeacon) Send(string) {}
