package auth

import "errors"

var (
	// ErrNotAuthorized indicates no credentials are stored for the identity token.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUpstreamExchange indicates the provider rejected an authorization code or refresh secret.
	ErrUpstreamExchange = errors.New("upstream exchange failed")
	// ErrUpstreamUnavailable indicates the provider could not be reached or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStorage indicates the credential store failed to read or write.
	ErrStorage = errors.New("credential storage failure")
)
