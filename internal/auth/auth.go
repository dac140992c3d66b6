// Package auth contains the bearer-token authorization gate.
package auth

import (
	"strings"
)

// Error is an authentication error.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e Error) Error() string {
	return "authentication failed (" + e.Message + ")"
}

// ValidateFunc is a function that accepts or rejects a presented token.
type ValidateFunc func(token string) bool

// Token is the authorization credential of an endpoint.
// The zero value disables authorization.
type Token struct {
	static    string
	predicate ValidateFunc
}

// Static returns a Token that compares the presented value verbatim.
func Static(v string) Token {
	return Token{static: v}
}

// Predicate returns a Token that delegates validation to fn.
func Predicate(fn ValidateFunc) Token {
	return Token{predicate: fn}
}

// IsZero reports whether the endpoint requires no authorization.
func (t Token) IsZero() bool {
	return t.static == "" && t.predicate == nil
}

// Authenticate checks an Authorization header value against tok.
func Authenticate(tok Token, authorization string) error {
	if tok.IsZero() {
		return nil
	}

	presented, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return Error{Message: "missing bearer token"}
	}

	if tok.predicate != nil {
		if !tok.predicate(presented) {
			return Error{Message: "invalid bearer token"}
		}
		return nil
	}

	if presented != tok.static {
		return Error{Message: "invalid bearer token"}
	}

	return nil
}
