// Package auth owns the mutable header set shared by every outgoing request:
// static headers, cookies and the bearer token of the active identity.
package auth

import (
	"strings"
	"time"
	"unicode"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

// Identity names one of the fixed credential slots.
type Identity string

const (
	IdentityAverage   Identity = "average"
	IdentityEdu       Identity = "edu"
	IdentityJudgement Identity = "judgement"
	IdentityBlank     Identity = "blank"
)

// Identities lists every recognized identity.
var Identities = []Identity{IdentityAverage, IdentityEdu, IdentityJudgement, IdentityBlank}

// ParseIdentity validates name against the closed identity set.
func ParseIdentity(name string) (Identity, error) {
	for _, id := range Identities {
		if string(id) == name {
			return id, nil
		}
	}
	return "", apierr.New(apierr.KindAuth, "unknown identity %q", name)
}

// parseToken validates a raw bearer token and converts it into an
// oauth2.Token. JWT-shaped tokens are parsed without signature verification
// to reject malformed input and to pick up the exp claim.
func parseToken(raw string, id Identity) (*oauth2.Token, error) {
	if raw == "" {
		if id == IdentityBlank {
			return nil, nil
		}
		return nil, apierr.New(apierr.KindAuth, "empty token for identity %q", id)
	}

	if strings.IndexFunc(raw, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return nil, apierr.New(apierr.KindAuth, "malformed token for identity %q: contains whitespace or control characters", id)
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}

	if strings.Count(raw, ".") != 2 {
		return tok, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, err, "malformed token for identity %q", id)
	}
	if exp, ok := claims["exp"].(float64); ok {
		tok.Expiry = time.Unix(int64(exp), 0)
	}

	return tok, nil
}

// authorizationValue renders the Authorization header for tok.
func authorizationValue(tok *oauth2.Token) string {
	return tok.Type() + " " + tok.AccessToken
}
