package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the claims carried by a bearer session token. The
// account id rides in the registered Subject field.
type SessionClaims struct {
	jwt.RegisteredClaims
}
