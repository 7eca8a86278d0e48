// Package token holds the shared-secret primitives behind roomgate's admin API key.
//
// Keys are never compared as raw strings. Both sides are reduced to fixed-size
// SHA-256 digests and compared with hmac.Equal, so timing does not depend on
// where the inputs first differ or on their lengths.
//
// Environment:
//   - ROOMGATE_ADMIN_API_KEY: when set, admin routes require it (see ValidateKey for the policy).
package token
