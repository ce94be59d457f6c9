// Package tokensource redeems refresh tokens against the mindline backend.
//
// The backend's refresh endpoint is OAuth2-shaped but deviates from the standard in
// ways that require custom handling:
//   - The request is a JSON object {"refreshToken": "..."} instead of a form-encoded grant
//   - The response is wrapped in the API envelope {success, data: {token, refreshToken}, message}
//   - A rejected refresh may come back as HTTP 200 with success=false
//
// Refresher drives golang.org/x/oauth2 through a RoundTripper that translates both
// directions, so oauth2 handles token parsing and error reporting.
//
// # Usage
//
//	r := tokensource.NewRefresher(baseURL)
//	tok, err := r.Refresh(ctx, refreshToken)
//	// tok.AccessToken, tok.RefreshToken
//
// # Custom Base Transport
//
// Configure a custom base transport for refresh requests (e.g., for proxies or tests):
//
//	r := tokensource.NewRefresher(
//		baseURL,
//		tokensource.WithTransport(customTransport),
//	)
package tokensource
