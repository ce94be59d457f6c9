package tokensource

import (
	"strings"

	"golang.org/x/oauth2"
)

// RefreshPath is the backend route that exchanges a refresh token for a new credential pair.
const RefreshPath = "/auth/refresh-token"

// Endpoint returns the OAuth2 endpoint for the backend at baseURL.
// The backend only supports the refresh grant, so AuthURL is left empty.
func Endpoint(baseURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		TokenURL:  strings.TrimSuffix(baseURL, "/") + RefreshPath,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}
