package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/domain"
	"github.com/inkwell/inkwell-auth/internal/otp"
	"github.com/inkwell/inkwell-auth/internal/repository"
	"github.com/inkwell/inkwell-auth/internal/service"
	"github.com/inkwell/inkwell-auth/internal/token"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testEmail        = "reader@example.com"
	testPassword     = "original password"
)

// memoryStore backs all four repositories for service tests. Invalidate and
// ConsumeCode keep the same winner-takes-all semantics as the SQL
// implementations: a conditional mutation that fails with ErrNotFound for
// every caller but one.
type memoryStore struct {
	mu       sync.Mutex
	users    map[int64]domain.User
	clients  map[int64]domain.AuthorizationClient
	families map[int64]domain.TokenFamily
	tokens   map[int64]domain.Token
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[int64]domain.User),
		clients:  make(map[int64]domain.AuthorizationClient),
		families: make(map[int64]domain.TokenFamily),
		tokens:   make(map[int64]domain.Token),
	}
}

func (m *memoryStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryStore) GetByID(_ context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) Create(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryStore) SetPassword(_ context.Context, userID int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

func (m *memoryStore) GetByClientID(_ context.Context, clientID string) (domain.AuthorizationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.ClientID == clientID {
			return c, nil
		}
	}
	return domain.AuthorizationClient{}, domain.ErrNotFound
}

func (m *memoryStore) GetByName(_ context.Context, name string) (domain.AuthorizationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.Name == name {
			return c, nil
		}
	}
	return domain.AuthorizationClient{}, domain.ErrNotFound
}

func (m *memoryStore) CreateClient(_ context.Context, client domain.AuthorizationClient) (domain.AuthorizationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	return client, nil
}

func (m *memoryStore) CreateFamily(_ context.Context, family domain.TokenFamily) (domain.TokenFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	family.CreatedAt = time.Now()
	m.families[family.ID] = family
	return family, nil
}

func (m *memoryStore) GetFamily(_ context.Context, familyID int64) (domain.TokenFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[familyID]
	if !ok {
		return domain.TokenFamily{}, domain.ErrNotFound
	}
	return f, nil
}

func (m *memoryStore) DeleteFamily(_ context.Context, familyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.families[familyID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.families, familyID)
	for id, tok := range m.tokens {
		if tok.FamilyID == familyID {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *memoryStore) DeleteFamiliesByUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fid, f := range m.families {
		if f.UserID != userID {
			continue
		}
		delete(m.families, fid)
		for id, tok := range m.tokens {
			if tok.FamilyID == fid {
				delete(m.tokens, id)
			}
		}
	}
	return nil
}

func (m *memoryStore) CreateToken(_ context.Context, tok domain.Token) (domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same referential constraint the schema enforces.
	if _, ok := m.families[tok.FamilyID]; !ok {
		return domain.Token{}, fmt.Errorf("insert token: family %d missing", tok.FamilyID)
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now()
	}
	m.tokens[tok.ID] = tok
	return tok, nil
}

func (m *memoryStore) GetTokenByValue(_ context.Context, typ domain.TokenType, value string) (domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.Type == typ && tok.Value == value {
			return tok, nil
		}
	}
	return domain.Token{}, domain.ErrNotFound
}

func (m *memoryStore) ConsumeCode(_ context.Context, value string) (domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.tokens {
		if tok.Type == domain.TokenTypeCode && tok.Value == value {
			delete(m.tokens, id)
			return tok, nil
		}
	}
	return domain.Token{}, domain.ErrNotFound
}

func (m *memoryStore) Invalidate(_ context.Context, tokenID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok || !tok.Valid {
		return domain.ErrNotFound
	}
	tok.Valid = false
	m.tokens[tokenID] = tok
	return nil
}

func (m *memoryStore) DeleteToken(_ context.Context, tokenID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tokenID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tokens, tokenID)
	return nil
}

func (m *memoryStore) PurgeCreatedBefore(_ context.Context, typ domain.TokenType, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, tok := range m.tokens {
		if tok.Type == typ && tok.CreatedAt.Before(cutoff) {
			delete(m.tokens, id)
			purged++
		}
	}
	return purged, nil
}

func (m *memoryStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memoryStore) seedToken(tok domain.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.ID] = tok
}

// Adapter types split memoryStore into the repository interfaces the service
// constructor expects.
type userRepoAdapter struct{ *memoryStore }

type clientRepoAdapter struct{ *memoryStore }

func (a clientRepoAdapter) Create(ctx context.Context, c domain.AuthorizationClient) (domain.AuthorizationClient, error) {
	return a.CreateClient(ctx, c)
}

type familyRepoAdapter struct{ *memoryStore }

func (a familyRepoAdapter) Create(ctx context.Context, f domain.TokenFamily) (domain.TokenFamily, error) {
	return a.CreateFamily(ctx, f)
}

func (a familyRepoAdapter) Get(ctx context.Context, familyID int64) (domain.TokenFamily, error) {
	return a.GetFamily(ctx, familyID)
}

func (a familyRepoAdapter) Delete(ctx context.Context, familyID int64) error {
	return a.DeleteFamily(ctx, familyID)
}

func (a familyRepoAdapter) DeleteByUser(ctx context.Context, userID int64) error {
	return a.DeleteFamiliesByUser(ctx, userID)
}

type tokenRepoAdapter struct{ *memoryStore }

func (a tokenRepoAdapter) Create(ctx context.Context, tok domain.Token) (domain.Token, error) {
	return a.CreateToken(ctx, tok)
}

func (a tokenRepoAdapter) GetByValue(ctx context.Context, typ domain.TokenType, value string) (domain.Token, error) {
	return a.GetTokenByValue(ctx, typ, value)
}

func (a tokenRepoAdapter) Delete(ctx context.Context, tokenID int64) error {
	return a.DeleteToken(ctx, tokenID)
}

var (
	_ repository.UserRepository   = userRepoAdapter{}
	_ repository.ClientRepository = clientRepoAdapter{}
	_ repository.FamilyRepository = familyRepoAdapter{}
	_ repository.TokenRepository  = tokenRepoAdapter{}
)

type memoryResetStore struct {
	mu    sync.Mutex
	slots map[string]bool
	used  map[string]bool
}

func newMemoryResetStore() *memoryResetStore {
	return &memoryResetStore{slots: make(map[string]bool), used: make(map[string]bool)}
}

func (m *memoryResetStore) AcquireSendSlot(_ context.Context, email string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots[email] {
		return false, nil
	}
	m.slots[email] = true
	return true, nil
}

func (m *memoryResetStore) MarkTokenUsed(_ context.Context, tok string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[tok] = true
	return nil
}

func (m *memoryResetStore) TokenUsed(_ context.Context, tok string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[tok], nil
}

type chanMailer struct{ sent chan string }

func (m *chanMailer) Send(_ context.Context, _, _, body string) error {
	select {
	case m.sent <- body:
	default:
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Keys: config.Keys{
			Code:    []byte("code-signing-key-for-tests-00001"),
			Access:  []byte("access-signing-key-for-tests-001"),
			Refresh: []byte("refresh-signing-key-for-tests-01"),
			Reset:   []byte("reset-signing-key-for-tests-0001"),
		},
		CodeTokenTTL:    2 * time.Minute,
		AccessTokenTTL:  3 * time.Minute,
		RefreshTokenTTL: 10 * time.Hour,
		ResetTokenTTL:   5 * time.Minute,
	}
}

type fixture struct {
	svc    *service.AuthService
	store  *memoryStore
	resets *memoryResetStore
	mailer *chanMailer
	user   domain.User
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	store := newMemoryStore()
	resets := newMemoryResetStore()
	mailer := &chanMailer{sent: make(chan string, 4)}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := service.NewAuthService(
		userRepoAdapter{store},
		clientRepoAdapter{store},
		familyRepoAdapter{store},
		tokenRepoAdapter{store},
		resets,
		node,
		token.NewCodec(cfg.Keys),
		mailer,
		cfg,
		zap.NewNop(),
	)

	store.clients[1] = domain.AuthorizationClient{
		ID:           1,
		Name:         "Application",
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	}

	user, err := svc.Register(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, resets: resets, mailer: mailer, user: user}
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	code, err := f.svc.Login(context.Background(), testClientID, testEmail, testPassword)
	require.NoError(t, err)
	return code
}

func (f *fixture) loginAndExchange(t *testing.T) *service.TokenPair {
	t.Helper()
	pair, err := f.svc.ExchangeCode(context.Background(), f.login(t), testClientSecret)
	require.NoError(t, err)
	return pair
}

func TestLoginFailuresCollapseToInvalidCredentials(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "unknown-client", testEmail, testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, testClientID, "nobody@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, testClientID, testEmail, "wrong password")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	f.store.mu.Lock()
	u := f.store.users[f.user.ID]
	u.LoginPermitted = false
	f.store.users[f.user.ID] = u
	f.store.mu.Unlock()

	_, err = f.svc.Login(ctx, testClientID, testEmail, testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	code := f.login(t)

	pair, err := f.svc.ExchangeCode(ctx, code, testClientSecret)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	_, err = f.svc.ExchangeCode(ctx, code, testClientSecret)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)
}

func TestExchangeCodeWrongSecretLeavesCodeRedeemable(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	code := f.login(t)

	_, err := f.svc.ExchangeCode(ctx, code, "wrong secret")
	require.ErrorIs(t, err, domain.ErrInvalidClientSecret)

	pair, err := f.svc.ExchangeCode(ctx, code, testClientSecret)
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestExchangeCodeRejectsGarbageAndForeignCodes(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.svc.ExchangeCode(ctx, "not-a-code", testClientSecret)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)

	// A code that verifies but was never persisted (revoked family) fails
	// the same way.
	codec := token.NewCodec(testConfig().Keys)
	orphan, err := codec.Issue(token.CategoryCode, token.CodeClaims{ClientID: testClientID, UserID: f.user.ID, FamilyID: 999}, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.ExchangeCode(ctx, orphan, testClientSecret)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)
}

func TestRotationAndReuseDetection(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	first := f.loginAndExchange(t)

	second, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the rotated token is theft: the whole family dies.
	_, err = f.svc.Rotate(ctx, first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrTokenReuseDetected)

	// Which takes the latest pair down with it.
	_, err = f.svc.Rotate(ctx, second.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	pair := f.loginAndExchange(t)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Rotate(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// The loser always observes reuse. The winner either completes or, when
	// the loser's family revocation lands between its tombstone write and
	// its insert, fails closed.
	var successes, reuses, failedClosed int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrTokenReuseDetected):
			reuses++
		case errors.Is(err, domain.ErrInvalidOrExpiredToken):
			failedClosed++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	require.Equal(t, 1, reuses)
	require.LessOrEqual(t, successes, 1)
	require.Equal(t, 2, successes+reuses+failedClosed)
}

func TestRotationFailsClosedWhenFamilyRevokedMidFlight(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	pair := f.loginAndExchange(t)

	// Drop the family while its refresh row survives, the state a
	// concurrent reuse detection leaves between the tombstone write and
	// the new insert.
	f.store.mu.Lock()
	for id := range f.store.families {
		delete(f.store.families, id)
	}
	f.store.mu.Unlock()

	_, err := f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestExpiredRefreshTokenIsRejectedAndDropped(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshTokenTTL = -time.Minute
	f := newFixture(t, cfg)
	ctx := context.Background()

	pair := f.loginAndExchange(t)

	_, err := f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	// The row is gone, so the replay fails on lookup rather than reuse.
	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestLogoutRevokesFamilyOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	pair := f.loginAndExchange(t)

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))

	require.ErrorIs(t, f.svc.Logout(ctx, pair.RefreshToken), domain.ErrInvalidTokens)
	_, err := f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	require.ErrorIs(t, f.svc.Logout(ctx, "never-issued"), domain.ErrInvalidTokens)
}

func TestVerifyAccessToken(t *testing.T) {
	f := newFixture(t, testConfig())

	pair := f.loginAndExchange(t)

	principal, err := f.svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.user.ID, principal.UserID)

	// Access tokens are stateless: revoking the family does not touch them.
	require.NoError(t, f.svc.Logout(context.Background(), pair.RefreshToken))
	_, err = f.svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.VerifyAccessToken("garbage")
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	// A refresh token is not an access token.
	_, err = f.svc.VerifyAccessToken(pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestForgotPasswordResetFlow(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	session := f.loginAndExchange(t)

	require.NoError(t, f.svc.ForgotPassword(ctx, testEmail))
	select {
	case body := <-f.mailer.sent:
		require.NotEmpty(t, body)
	case <-time.After(2 * time.Second):
		t.Fatal("reset mail was never sent")
	}

	// Second request inside the throttle window stays silent.
	require.NoError(t, f.svc.ForgotPassword(ctx, testEmail))
	select {
	case <-f.mailer.sent:
		t.Fatal("throttled request sent a second mail")
	case <-time.After(50 * time.Millisecond):
	}

	// Unknown accounts get the same answer and no mail.
	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com"))

	code, err := otp.Code(f.user.OTPSecret, time.Now())
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, testEmail, "000000")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	resetToken, err := f.svc.VerifyOTP(ctx, testEmail, code)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, resetToken, "brand new password"))

	// The reset cascades: every existing session is revoked.
	_, err = f.svc.Rotate(ctx, session.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	// And the reset token is single use.
	require.ErrorIs(t, f.svc.ResetPassword(ctx, resetToken, "another password"), domain.ErrInvalidResetToken)

	_, err = f.svc.Login(ctx, testClientID, testEmail, testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, testClientID, testEmail, "brand new password")
	require.NoError(t, err)
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	first := f.loginAndExchange(t)
	second := f.loginAndExchange(t)

	require.NoError(t, f.svc.ChangePassword(ctx, f.user.ID, "rotated password"))

	_, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
	_, err = f.svc.Rotate(ctx, second.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = f.svc.Login(ctx, testClientID, testEmail, "rotated password")
	require.NoError(t, err)
}

func TestJanitorPurgesExpiredRows(t *testing.T) {
	cfg := testConfig()
	cfg.JanitorInterval = 5 * time.Millisecond
	f := newFixture(t, cfg)

	stale := time.Now().Add(-24 * time.Hour)
	f.store.seedToken(domain.Token{ID: 9001, Type: domain.TokenTypeCode, FamilyID: 1, Value: "stale-code", CreatedAt: stale})
	f.store.seedToken(domain.Token{ID: 9002, Type: domain.TokenTypeRefresh, FamilyID: 1, Value: "stale-refresh", Valid: false, CreatedAt: stale})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.svc.RunJanitor(ctx)

	require.Eventually(t, func() bool {
		return f.store.tokenCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
