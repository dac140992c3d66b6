package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWT returns a Token that validates the presented value as a JWT
// signed with the given HS256 secret. Expired tokens are rejected.
func JWT(secret string) Token {
	key := []byte(secret)

	return Predicate(func(presented string) bool {
		_, err := jwt.Parse(presented, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		return err == nil
	})
}
