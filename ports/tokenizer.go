package ports

import "github.com/keyward/keyward/core"

// SessionTokenizer converts a verified ceremony outcome into a bearer session
// and back. Tokens are self-contained; there is no server-side session table.
type SessionTokenizer interface {
	IssueSession(accountID string) (core.Session, error)
	ValidateSession(token string) (core.Session, error)
}
