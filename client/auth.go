package client

import (
	"encoding/base64"
	"strings"

	"httpcore/message"
	"httpcore/route"
	"httpcore/uri"
)

// Authenticator reacts to authentication challenges by deriving a
// request carrying credentials, or nil to give up.
type Authenticator interface {
	// Authenticate answers a 401 from the origin server.
	Authenticate(proxy route.Proxy, response *message.Response) (*message.Request, error)

	// AuthenticateProxy answers a 407 from an HTTP proxy.
	AuthenticateProxy(proxy route.Proxy, response *message.Response) (*message.Request, error)
}

// BasicCredential encodes a username and password for the Basic
// scheme, ready to use as an Authorization value.
// Reference: https://datatracker.ietf.org/doc/html/rfc7617
func BasicCredential(username, password string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + encoded
}

// BasicAuthenticator answers Basic challenges with a fixed credential.
type BasicAuthenticator struct {
	// Credential is a ready-made Authorization value, usually from
	// [BasicCredential].
	Credential string
}

var _ Authenticator = (*BasicAuthenticator)(nil)

func (a *BasicAuthenticator) Authenticate(_ route.Proxy, response *message.Response) (*message.Request, error) {
	return a.answer(response, "WWW-Authenticate", "Authorization")
}

func (a *BasicAuthenticator) AuthenticateProxy(_ route.Proxy, response *message.Response) (*message.Request, error) {
	return a.answer(response, "Proxy-Authenticate", "Proxy-Authorization")
}

func (a *BasicAuthenticator) answer(response *message.Response, challengeHeader, credentialHeader string) (*message.Request, error) {
	request := response.Request()

	// Don't resubmit a credential the server already rejected.
	if _, sent := request.Header(credentialHeader); sent {
		return nil, nil
	}

	for _, challenge := range message.ParseChallenges(response.Headers(), challengeHeader) {
		if !strings.EqualFold(challenge.Scheme, "Basic") {
			continue
		}
		return request.NewBuilder().
			Header(credentialHeader, a.Credential).
			Build()
	}
	return nil, nil
}

// CookieJar stores cookies between exchanges. Values are raw header
// strings; parsing policy belongs to the implementation.
type CookieJar interface {
	// SaveFromResponse receives every Set-Cookie value of a response.
	SaveFromResponse(target uri.URI, setCookies []string)

	// LoadForRequest returns Cookie values to attach, in order.
	LoadForRequest(target uri.URI) []string
}
