// Package auth abstracts credential storage. The library only reads
// credentials at connect time; acquiring and persisting them is the
// caller's concern.
package auth

import "github.com/pals-labs/gopals/palserr"

// Credentials is an opaque auth token plus the session it belongs to.
type Credentials struct {
	Token     string
	SessionID string
}

// Source supplies credentials on demand.
type Source interface {
	Credentials() (Credentials, error)
}

// Static is a Source backed by fixed values.
type Static struct {
	Token     string
	SessionID string
}

// Credentials returns the stored values, or ErrNoCredentials when the token
// is empty.
func (s Static) Credentials() (Credentials, error) {
	if s.Token == "" {
		return Credentials{}, palserr.ErrNoCredentials
	}
	return Credentials{Token: s.Token, SessionID: s.SessionID}, nil
}
