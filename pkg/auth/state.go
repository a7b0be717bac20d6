package auth

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Sternrassler/codemao-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var identitySwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codemao_identity_switches_total",
	Help: "Total successful identity switches by identity",
}, []string{"identity"})

// ErrNoActiveToken is returned by Token when no identity holds a token.
var ErrNoActiveToken = errors.New("no active token")

// State is the header set shared across all outstanding requests.
//
// Every mutation builds a new header map and swaps it in under the write
// lock; readers copy the current map under the read lock. A reader therefore
// sees either the old or the new set in full.
type State struct {
	mu      sync.RWMutex
	headers http.Header
	tokens  map[Identity]*oauth2.Token
	active  Identity

	store  TokenStore
	logger zerolog.Logger
}

// Option configures a State.
type Option func(*State)

// WithStore persists every switch to store.
func WithStore(store TokenStore) Option {
	return func(s *State) {
		s.store = store
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

// NewState creates a State seeded with static headers.
func NewState(static map[string]string, opts ...Option) *State {
	headers := make(http.Header, len(static))
	for key, value := range static {
		headers.Set(key, value)
	}

	s := &State{
		headers: headers,
		tokens:  make(map[Identity]*oauth2.Token, len(Identities)),
		logger:  logging.NewLogger("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Headers returns a snapshot of the current header set.
func (s *State) Headers() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// Active returns the most recently switched identity, or "" before the
// first switch.
func (s *State) Active() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// TokenFor returns the raw token stored for id.
func (s *State) TokenFor(id Identity) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[id]
	if !ok || tok == nil {
		return "", false
	}
	return tok.AccessToken, true
}

// Token returns the active identity's token, making State an
// oauth2.TokenSource.
func (s *State) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok := s.tokens[s.active]
	if tok == nil {
		return nil, ErrNoActiveToken
	}
	copied := *tok
	return &copied, nil
}

// Switch stores token under identity and makes it the active bearer token.
// An unrecognized identity or malformed token leaves the state untouched.
// Switching to IdentityBlank with an empty token removes Authorization
// rather than sending an empty "Bearer " value.
func (s *State) Switch(ctx context.Context, token string, identity Identity) error {
	id, err := ParseIdentity(string(identity))
	if err != nil {
		return err
	}
	tok, err := parseToken(token, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	next := s.headers.Clone()
	if tok == nil {
		next.Del("Authorization")
	} else {
		next.Set("Authorization", authorizationValue(tok))
	}
	s.headers = next
	s.tokens[id] = tok
	s.active = id
	s.mu.Unlock()

	identitySwitchesTotal.WithLabelValues(string(id)).Inc()

	event := s.logger.Info().Str("identity", string(id))
	if tok != nil && !tok.Expiry.IsZero() {
		event = event.Time("expires_at", tok.Expiry)
		if !tok.Valid() {
			s.logger.Warn().Str("identity", string(id)).Time("expires_at", tok.Expiry).Msg("Switched to an expired token")
		}
	}
	event.Msg("Identity switched")

	if s.store != nil {
		if err := s.store.Save(ctx, id, token); err != nil {
			s.logger.Warn().Err(err).Str("identity", string(id)).Msg("Failed to persist token")
		}
	}

	return nil
}

// Restore reloads token slots from the configured store and re-activates the
// stored identity. It is a no-op without a store.
func (s *State) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	snapshot, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	tokens := make(map[Identity]*oauth2.Token, len(snapshot.Tokens))
	for id, raw := range snapshot.Tokens {
		tok, err := parseToken(raw, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("identity", string(id)).Msg("Skipping stored token")
			continue
		}
		tokens[id] = tok
	}

	s.mu.Lock()
	for id, tok := range tokens {
		s.tokens[id] = tok
	}
	if snapshot.Active != "" {
		next := s.headers.Clone()
		if tok := s.tokens[snapshot.Active]; tok != nil {
			next.Set("Authorization", authorizationValue(tok))
		} else {
			next.Del("Authorization")
		}
		s.headers = next
		s.active = snapshot.Active
	}
	s.mu.Unlock()

	s.logger.Info().
		Int("tokens", len(tokens)).
		Str("identity", string(snapshot.Active)).
		Msg("Restored identities from store")

	return nil
}

// SetHeader sets a custom header for all subsequent requests.
func (s *State) SetHeader(key, value string) {
	s.update(func(h http.Header) { h.Set(key, value) })
}

// DelHeader removes a header from the shared set.
func (s *State) DelHeader(key string) {
	s.update(func(h http.Header) { h.Del(key) })
}

// SetCookies replaces the Cookie header with the given cookies.
func (s *State) SetCookies(cookies []*http.Cookie) {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	s.setCookieHeader(strings.Join(parts, "; "))
}

// SetCookieMap replaces the Cookie header with name=value pairs in name order.
func (s *State) SetCookieMap(cookies map[string]string) {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	s.setCookieHeader(strings.Join(parts, "; "))
}

// SetCookieString replaces the Cookie header from a raw cookie string.
// Segments that are not exactly one name=value pair are dropped.
func (s *State) SetCookieString(raw string) {
	var parts []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if strings.Count(part, "=") != 1 {
			continue
		}
		parts = append(parts, part)
	}
	s.setCookieHeader(strings.Join(parts, ";"))
}

func (s *State) setCookieHeader(value string) {
	s.update(func(h http.Header) {
		h.Del("Cookie")
		if value != "" {
			h.Set("Cookie", value)
		}
	})
}

func (s *State) update(mutate func(http.Header)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.headers.Clone()
	mutate(next)
	s.headers = next
}

var _ oauth2.TokenSource = (*State)(nil)
