// Package orchestrator runs the client side of a session: request admission,
// connect to the primary transport endpoint, fail over once to the fallback
// endpoint, keep the lease alive with heartbeats and release it on exit.
//
// The flow is an explicit state machine (see State and the transition table)
// driven by Session.Run. Collaborators are interfaces so the whole flow can be
// exercised without a network:
//
//	Admission  issues credentials and renews the lease (HTTPAdmission)
//	Transport  the opaque media endpoint (WSTransport)
//	Media      local device state restored after every connect
//	Beacon     fire-and-forget release (HTTPBeacon)
package orchestrator
