// Package auth provides authentication backends for the session worker.
//
// It intentionally avoids conversation policy: a backend only decides which
// prompts to ask and whether the answers are acceptable.
package auth

import (
	"crypto/subtle"
	"errors"

	"github.com/petrel-os/sessiond/internal/session"
)

// ErrDenied is returned when credentials do not match.
var ErrDenied = errors.New("auth: permission denied")

// Static verifies a single fixed credential pair. It is intended only for
// development and tests; production deployments plug a PAM-backed
// implementation in behind session.Authenticator.
type Static struct {
	User     string
	Password string
}

func (s Static) Authenticate(user string, conv session.Conv) error {
	if s.User == "" {
		return ErrDenied
	}

	answer, err := conv(session.StyleSecret, "Password:")
	if err != nil {
		return err
	}

	userOK := subtle.ConstantTimeCompare([]byte(s.User), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(s.Password), []byte(answer)) == 1
	if !userOK || !passOK {
		return ErrDenied
	}
	return nil
}

// FuncAuthenticator adapts a function into a session.Authenticator.
type FuncAuthenticator func(user string, conv session.Conv) error

func (f FuncAuthenticator) Authenticate(user string, conv session.Conv) error {
	return f(user, conv)
}
