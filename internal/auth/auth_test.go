package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	for _, ca := range []struct {
		name          string
		token         Token
		authorization string
		err           string
	}{
		{
			"no token",
			Token{},
			"",
			"",
		},
		{
			"static ok",
			Static("t"),
			"Bearer t",
			"",
		},
		{
			"static missing header",
			Static("t"),
			"",
			"authentication failed (missing bearer token)",
		},
		{
			"static wrong scheme",
			Static("t"),
			"Basic dDp0",
			"authentication failed (missing bearer token)",
		},
		{
			"static wrong value",
			Static("t"),
			"Bearer nope",
			"authentication failed (invalid bearer token)",
		},
		{
			"predicate accept",
			Predicate(func(v string) bool { return v == "ok" }),
			"Bearer ok",
			"",
		},
		{
			"predicate reject",
			Predicate(func(v string) bool { return v == "ok" }),
			"Bearer no",
			"authentication failed (invalid bearer token)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := Authenticate(ca.token, ca.authorization)
			if ca.err == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, ca.err)
			}
		})
	}
}

func TestJWT(t *testing.T) {
	sign := func(secret string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "publisher",
			"exp": exp.Unix(),
		})
		s, err := tok.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	token := JWT("testsecret")

	err := Authenticate(token, "Bearer "+sign("testsecret", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	err = Authenticate(token, "Bearer "+sign("othersecret", time.Now().Add(time.Hour)))
	require.Error(t, err)

	err = Authenticate(token, "Bearer "+sign("testsecret", time.Now().Add(-time.Hour)))
	require.Error(t, err)

	err = Authenticate(token, "Bearer notajwt")
	require.Error(t, err)
}
