package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTokenA = "token-average-aaa"
	testTokenB = "token-edu-bbb"
)

func newTestState(static map[string]string, opts ...Option) *State {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewState(static, opts...)
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "1"})
	raw, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

type memoryStore struct {
	mu       sync.Mutex
	snapshot Snapshot
	saveErr  error
	saves    int
}

func (m *memoryStore) Save(_ context.Context, id Identity, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.snapshot.Tokens == nil {
		m.snapshot.Tokens = map[Identity]string{}
	}
	m.snapshot.Tokens[id] = token
	m.snapshot.Active = id
	return nil
}

func (m *memoryStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func TestParseIdentity(t *testing.T) {
	for _, id := range Identities {
		got, err := ParseIdentity(string(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := ParseIdentity("admin")
	assert.ErrorIs(t, err, apierr.ErrAuth)
}

func TestNewState_StaticHeadersAreCaseInsensitive(t *testing.T) {
	s := newTestState(map[string]string{"user-agent": "codemao-client/test", "Content-Type": "application/json"})

	h := s.Headers()
	assert.Equal(t, "codemao-client/test", h.Get("User-Agent"))
	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Empty(t, h.Get("Authorization"))
	assert.Equal(t, Identity(""), s.Active())
}

func TestSwitch_SetsBearerHeader(t *testing.T) {
	s := newTestState(map[string]string{"User-Agent": "ua"})

	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))

	h := s.Headers()
	assert.Equal(t, "Bearer "+testTokenA, h.Get("Authorization"))
	assert.Len(t, h.Values("Authorization"), 1)
	assert.Equal(t, "ua", h.Get("User-Agent"))
	assert.Equal(t, IdentityAverage, s.Active())

	require.NoError(t, s.Switch(context.Background(), testTokenB, IdentityEdu))

	h = s.Headers()
	assert.Equal(t, "Bearer "+testTokenB, h.Get("Authorization"))
	assert.Len(t, h.Values("Authorization"), 1)

	raw, ok := s.TokenFor(IdentityAverage)
	assert.True(t, ok)
	assert.Equal(t, testTokenA, raw)
}

func TestSwitch_UnknownIdentityLeavesStateUnchanged(t *testing.T) {
	s := newTestState(nil)
	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityJudgement))
	before := s.Headers()

	err := s.Switch(context.Background(), testTokenB, Identity("admin"))

	assert.ErrorIs(t, err, apierr.ErrAuth)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
	assert.Equal(t, before, s.Headers())
	assert.Equal(t, IdentityJudgement, s.Active())
}

func TestSwitch_MalformedToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		id    Identity
	}{
		{"empty token for average", "", IdentityAverage},
		{"whitespace inside", "abc def", IdentityEdu},
		{"header injection", "abc\r\nX-Evil: 1", IdentityAverage},
		{"broken jwt", "aaa.bbb.ccc", IdentityJudgement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(nil)
			err := s.Switch(context.Background(), tt.token, tt.id)
			assert.ErrorIs(t, err, apierr.ErrAuth)
			assert.Empty(t, s.Headers().Get("Authorization"))
		})
	}
}

func TestNewState_DefaultLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	s := NewState(nil)
	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))

	assert.Contains(t, buf.String(), `"component":"auth"`)
	assert.Contains(t, buf.String(), `"message":"Identity switched"`)
}

func TestSwitch_BlankWithEmptyTokenClearsAuthorization(t *testing.T) {
	s := newTestState(nil)
	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))

	require.NoError(t, s.Switch(context.Background(), "", IdentityBlank))

	assert.Empty(t, s.Headers().Values("Authorization"))
	assert.Equal(t, IdentityBlank, s.Active())
	_, err := s.Token()
	assert.ErrorIs(t, err, ErrNoActiveToken)
}

func TestSwitch_JWTExpiry(t *testing.T) {
	s := newTestState(nil)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedJWT(t, exp)

	require.NoError(t, s.Switch(context.Background(), raw, IdentityEdu))

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, tok.AccessToken)
	assert.True(t, tok.Expiry.Equal(exp), "expiry = %v, want %v", tok.Expiry, exp)
	assert.True(t, tok.Valid())
}

func TestSwitch_ConcurrentReadersSeeCompleteSets(t *testing.T) {
	s := newTestState(map[string]string{"User-Agent": "ua"})
	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))

	valid := map[string]bool{
		"Bearer " + testTokenA: true,
		"Bearer " + testTokenB: true,
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan string, 16)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := s.Headers()
				values := h.Values("Authorization")
				if len(values) != 1 || !valid[values[0]] || h.Get("User-Agent") != "ua" {
					select {
					case failures <- http.Header(h).Get("Authorization"):
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		token, id := testTokenA, IdentityAverage
		if i%2 == 0 {
			token, id = testTokenB, IdentityEdu
		}
		require.NoError(t, s.Switch(context.Background(), token, id))
	}
	close(stop)
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Errorf("reader observed inconsistent Authorization %q", f)
	}
}

func TestCookies(t *testing.T) {
	s := newTestState(nil)

	s.SetCookieMap(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a=1; b=2", s.Headers().Get("Cookie"))

	s.SetCookies([]*http.Cookie{{Name: "sid", Value: "xyz"}})
	assert.Equal(t, "sid=xyz", s.Headers().Get("Cookie"))

	s.SetCookieString(" sid=1 ; broken ; a=b=c ;token=2")
	assert.Equal(t, "sid=1;token=2", s.Headers().Get("Cookie"))

	s.SetCookieString("nothing-valid")
	assert.Empty(t, s.Headers().Values("Cookie"))
}

func TestSetHeaderAndDelHeader(t *testing.T) {
	s := newTestState(nil)
	snapshot := s.Headers()

	s.SetHeader("x-custom", "1")
	assert.Equal(t, "1", s.Headers().Get("X-Custom"))
	assert.Empty(t, snapshot.Get("X-Custom"), "earlier snapshots must not change")

	s.DelHeader("X-CUSTOM")
	assert.Empty(t, s.Headers().Get("X-Custom"))
}

func TestSwitch_PersistsToStore(t *testing.T) {
	store := &memoryStore{}
	s := newTestState(nil, WithStore(store))

	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))

	snap, _ := store.Load(context.Background())
	assert.Equal(t, testTokenA, snap.Tokens[IdentityAverage])
	assert.Equal(t, IdentityAverage, snap.Active)
}

func TestSwitch_StoreFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("redis down")}
	s := newTestState(nil, WithStore(store))

	require.NoError(t, s.Switch(context.Background(), testTokenA, IdentityAverage))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "Bearer "+testTokenA, s.Headers().Get("Authorization"))
}

func TestRestore(t *testing.T) {
	store := &memoryStore{snapshot: Snapshot{
		Tokens: map[Identity]string{
			IdentityAverage:   testTokenA,
			IdentityJudgement: "bad token",
		},
		Active: IdentityAverage,
	}}
	s := newTestState(nil, WithStore(store))

	require.NoError(t, s.Restore(context.Background()))

	assert.Equal(t, IdentityAverage, s.Active())
	assert.Equal(t, "Bearer "+testTokenA, s.Headers().Get("Authorization"))
	_, ok := s.TokenFor(IdentityJudgement)
	assert.False(t, ok, "malformed stored tokens are skipped")
}

func TestRestore_WithoutStore(t *testing.T) {
	s := newTestState(nil)
	assert.NoError(t, s.Restore(context.Background()))
}
