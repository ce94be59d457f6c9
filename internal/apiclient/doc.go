// Package apiclient issues authenticated requests to the mindline backend.
//
// Every request carries the stored access token as a bearer credential. When the
// backend answers 401, the client redeems the stored refresh token once, persists
// the new pair and replays the request. Callers never see an expired access token
// unless renewal itself fails.
//
// # Errors
//
// Requests fail with one of:
//   - *NetworkError: no response was received (dial failure, timeout, cancellation)
//   - *StatusError: a non-2xx response, passed through with its body
//   - ErrUnauthenticated: the session could not be renewed; stored credentials are cleared
//
// When renewal was rejected by the backend, the *StatusError of the refresh call is
// reachable through the ErrUnauthenticated error with errors.As.
//
// # Concurrent Renewal
//
// Requests that hit 401 at the same time share a single refresh call. A request that
// lost the race to a renewal that already completed replays with the rotated token
// without redeeming the refresh token again.
package apiclient
