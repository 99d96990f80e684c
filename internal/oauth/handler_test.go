package oauth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/credentials"
	"github.com/sumeria/sumeria/internal/oauth/oauthtest"
)

const testAccount = "x@y.com"

// countingStore wraps a Store and counts calls.
type countingStore struct {
	credentials.Store
	loads   atomic.Int64
	saves   atomic.Int64
	saveErr error
}

func (s *countingStore) Load(ctx context.Context, account string) (*credentials.Record, error) {
	s.loads.Add(1)
	return s.Store.Load(ctx, account)
}

func (s *countingStore) Save(ctx context.Context, rec *credentials.Record) error {
	s.saves.Add(1)
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, rec)
}

// countingAuthorizer returns a fixed token and counts calls.
type countingAuthorizer struct {
	calls atomic.Int64
	err   error
}

func (a *countingAuthorizer) Authorize(_ context.Context, conf *oauth2.Config, _ string) (*oauth2.Token, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &oauth2.Token{
		AccessToken:  "authorized-access",
		RefreshToken: "authorized-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

type fixture struct {
	ts      *oauthtest.TokenServer
	store   *countingStore
	auth    *countingAuthorizer
	secrets string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts := oauthtest.NewTokenServer(t)
	return &fixture{
		ts:      ts,
		store:   &countingStore{Store: credentials.NewFileStore(t.TempDir())},
		auth:    &countingAuthorizer{},
		secrets: oauthtest.WriteClientSecrets(t, t.TempDir(), ts.TokenURL()),
	}
}

func (f *fixture) handler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(Config{
		Service:         credentials.ProviderGmail,
		AccountID:       testAccount,
		CredentialsFile: f.secrets,
		Scopes:          []string{"https://www.googleapis.com/auth/gmail.readonly"},
		Store:           f.store,
		Authorizer:      f.auth,
		HTTPClient:      f.ts.Client(),
	})
	require.NoError(t, err)
	return h
}

func (f *fixture) seed(t *testing.T, access string, expiry time.Time, refresh string) {
	t.Helper()
	rec := credentials.NewRecord(testAccount, &credentials.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       expiry,
		Provider:     credentials.ProviderGmail,
		ClientID:     "test-client.apps.googleusercontent.com",
		ClientSecret: "test-secret",
		TokenURI:     f.ts.TokenURL(),
	})
	require.NoError(t, f.store.Store.Save(context.Background(), rec))
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{Store: credentials.NewFileStore(t.TempDir())})
	assert.Error(t, err)

	_, err = NewHandler(Config{AccountID: testAccount})
	assert.Error(t, err)
}

func TestHandler_ReusesValidCredential(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stored-access", time.Now().Add(time.Hour), "stored-refresh")
	h := f.handler(t)

	first, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-access", first.AccessToken)
	assert.Equal(t, StateValid, h.State())

	second, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int64(1), f.store.loads.Load())
	assert.Equal(t, int64(0), f.store.saves.Load())
	assert.Equal(t, 0, f.ts.Requests())
	assert.Equal(t, int64(0), f.auth.calls.Load())
}

func TestHandler_RefreshesExpiredCredential(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
	h := f.handler(t)

	cred, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", cred.AccessToken)
	assert.Equal(t, "stored-refresh", cred.RefreshToken)
	assert.True(t, cred.Valid(time.Now()))
	assert.Equal(t, 1, f.ts.Refreshes())
	assert.Equal(t, int64(0), f.auth.calls.Load())

	rec, err := f.store.Store.Load(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", rec.Token)
	assert.Equal(t, "stored-refresh", rec.RefreshToken)

	// The refreshed credential is now served from memory.
	_, err = h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ts.Refreshes())
}

func TestHandler_RefreshUsesSecretsFileWithoutStoredClient(t *testing.T) {
	f := newFixture(t)
	rec := credentials.NewRecord(testAccount, &credentials.Credential{
		AccessToken:  "stale-access",
		RefreshToken: "stored-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	})
	require.NoError(t, f.store.Store.Save(context.Background(), rec))
	h := f.handler(t)

	cred, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", cred.AccessToken)
	assert.Equal(t, "test-client.apps.googleusercontent.com", cred.ClientID)
	assert.Equal(t, credentials.ProviderGmail, cred.Provider)
}

func TestHandler_AuthorizesWhenNothingStored(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t)
	assert.Equal(t, StateNoToken, h.State())

	cred, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorized-access", cred.AccessToken)
	assert.Equal(t, int64(1), f.auth.calls.Load())
	assert.Equal(t, StateValid, h.State())

	rec, err := f.store.Store.Load(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, testAccount, rec.Account)
	assert.Equal(t, "authorized-refresh", rec.RefreshToken)
	assert.Equal(t, f.ts.TokenURL(), rec.TokenURI)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/gmail.readonly"}, rec.Scopes)

	_, err = h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.auth.calls.Load())
}

func TestHandler_AuthorizesWhenNotRefreshable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stale-access", time.Now().Add(-time.Hour), "")
	h := f.handler(t)

	cred, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorized-access", cred.AccessToken)
	assert.Equal(t, 0, f.ts.Refreshes())
	assert.Equal(t, int64(1), f.auth.calls.Load())
}

func TestHandler_MissingCredentialsFile(t *testing.T) {
	f := newFixture(t)
	f.secrets = ""
	h := f.handler(t)

	_, err := h.Credentials(context.Background())
	require.ErrorIs(t, err, apperr.ErrMissingCredentialsFile)
	assert.Equal(t, int64(0), f.auth.calls.Load())
	assert.Equal(t, StateNoToken, h.State())
}

func TestHandler_RefreshFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, apperr.ErrAuthorizationDenied},
		{"unauthorized", http.StatusUnauthorized, apperr.ErrAuthorizationDenied},
		{"rate limited", http.StatusTooManyRequests, apperr.ErrTransient},
		{"unavailable", http.StatusServiceUnavailable, apperr.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
			f.ts.FailWith(tt.status)
			h := f.handler(t)

			_, err := h.Credentials(context.Background())
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateExpired, h.State())
			assert.Equal(t, int64(0), f.auth.calls.Load())
			assert.Equal(t, int64(0), f.store.saves.Load())
		})
	}
}

func TestHandler_RefreshDeadline(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
	f.ts.Delay(time.Second)
	h := f.handler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Credentials(ctx)
	require.ErrorIs(t, err, apperr.ErrTimeout)
	assert.Equal(t, apperr.KindTimeout, apperr.Kind(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestHandler_PersistFailureStillReturnsCredential(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
	f.store.saveErr = errors.New("disk full")
	h := f.handler(t)

	cred, err := h.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", cred.AccessToken)
	assert.Equal(t, int64(1), f.store.saves.Load())
	assert.Equal(t, StateValid, h.State())
}

func TestHandler_Revoke(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stored-access", time.Now().Add(time.Hour), "stored-refresh")
	h := f.handler(t)

	_, err := h.Credentials(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Revoke(context.Background()))
	assert.Equal(t, StateNoToken, h.State())
	assert.False(t, h.IsAuthenticated(context.Background()))

	_, err = f.store.Store.Load(context.Background(), testAccount)
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	// Revoking again is a no-op.
	require.NoError(t, h.Revoke(context.Background()))
}

func TestHandler_RevokeDuringAuthorization(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})

	h, err := NewHandler(Config{
		Service:         credentials.ProviderGmail,
		AccountID:       testAccount,
		CredentialsFile: f.secrets,
		Store:           f.store,
		Authorizer: AuthorizerFunc(func(ctx context.Context, _ *oauth2.Config, _ string) (*oauth2.Token, error) {
			close(started)
			<-release
			return &oauth2.Token{AccessToken: "late", RefreshToken: "late-refresh", Expiry: time.Now().Add(time.Hour)}, nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.Credentials(context.Background())
		done <- err
	}()

	<-started
	require.NoError(t, h.Revoke(context.Background()))
	close(release)
	require.NoError(t, <-done)

	_, err = f.store.Store.Load(context.Background(), testAccount)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
	assert.Equal(t, StateNoToken, h.State())
}

func TestHandler_IsAuthenticated(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		f := newFixture(t)
		assert.False(t, f.handler(t).IsAuthenticated(context.Background()))
	})

	t.Run("expired but refreshable", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
		h := f.handler(t)

		assert.True(t, h.IsAuthenticated(context.Background()))
		assert.Equal(t, 0, f.ts.Requests())
		assert.Equal(t, int64(0), f.auth.calls.Load())
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "stale-access", time.Now().Add(-time.Hour), "")
		assert.False(t, f.handler(t).IsAuthenticated(context.Background()))
	})
}

func TestHandler_ConcurrentCallersShareRefresh(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "stale-access", time.Now().Add(-time.Hour), "stored-refresh")
	f.ts.Delay(50 * time.Millisecond)
	h := f.handler(t)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := h.Token(context.Background())
			if err == nil {
				tokens[i] = tok.AccessToken
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-access-1", tokens[i])
	}
	assert.Equal(t, 1, f.ts.Refreshes())
}

func TestHandler_CanceledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	var flightErr atomic.Value

	h, err := NewHandler(Config{
		Service:         credentials.ProviderGmail,
		AccountID:       testAccount,
		CredentialsFile: f.secrets,
		Store:           f.store,
		Authorizer: AuthorizerFunc(func(ctx context.Context, _ *oauth2.Config, _ string) (*oauth2.Token, error) {
			calls.Add(1)
			close(started)
			<-release
			if ctx.Err() != nil {
				flightErr.Store(ctx.Err())
			}
			return &oauth2.Token{AccessToken: "shared", RefreshToken: "shared-refresh", Expiry: time.Now().Add(time.Hour)}, nil
		}),
	})
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.Credentials(firstCtx)
		first <- err
	}()
	<-started

	second := make(chan *credentials.Credential, 1)
	go func() {
		cred, err := h.Credentials(context.Background())
		assert.NoError(t, err)
		second <- cred
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-first, apperr.ErrTimeout)

	close(release)
	cred := <-second
	require.NotNil(t, cred)
	assert.Equal(t, "shared", cred.AccessToken)
	assert.Equal(t, int64(1), calls.Load())
	assert.Nil(t, flightErr.Load(), "authorization ran on a canceled context")
}

func TestListAuthenticatedAccounts(t *testing.T) {
	store := credentials.NewFileStore(t.TempDir())
	for _, account := range []string{"b@example.com", "a@example.com"} {
		require.NoError(t, store.Save(context.Background(), credentials.NewRecord(account, &credentials.Credential{AccessToken: "t"})))
	}

	accounts, err := ListAuthenticatedAccounts(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, accounts)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "no_token", StateNoToken.String())
	assert.Equal(t, "authorizing", StateAuthorizing.String())
	assert.Equal(t, "state(42)", State(42).String())
}
