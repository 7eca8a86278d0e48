// Package credential mints transport access tokens for admitted participants.
//
// Tokens follow the LiveKit access token layout: an HS256 JWT whose issuer is the
// endpoint's API key, whose subject is the participant identity, and whose "video"
// claim carries the room grant. A primary credential is always issued; a fallback
// credential is issued alongside it when a fallback endpoint is configured, so a
// client can fail over without another admission round trip.
package credential
