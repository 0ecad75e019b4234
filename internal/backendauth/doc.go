// Package backendauth talks to the better-auth backend that owns user sessions.
//
// Client.Validate asks the backend whether a session token is still good and
// whether it is close enough to expiry to be refreshed. Client.Refresh asks the
// backend for a replacement token, which arrives in a Set-Cookie header.
//
// Neither operation returns an error: every failure mode (transport error,
// non-2xx status, undecodable body, missing user) collapses to an invalid
// result or an absent token, and is logged at debug level.
package backendauth
