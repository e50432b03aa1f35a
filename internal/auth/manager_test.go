package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medibot/internal/i18n"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, text, html string) error {
	args := m.Called(ctx, to, subject, text, html)
	return args.Error(0)
}

var sixDigits = regexp.MustCompile(`[0-9]{6}`)

// lastCode returns the code mailed in the most recent Send call.
func (m *mockMailer) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.Calls, "no mail sent")
	text := m.Calls[len(m.Calls)-1].Arguments.String(3)
	code := sixDigits.FindString(text)
	require.NotEmpty(t, code, "no code in %q", text)
	return code
}

type testEnv struct {
	m             *Manager
	mailer        *mockMailer
	users         *MemoryUserRepository
	verifications *MemoryVerificationRepository
	sessions      *MemorySessionStore
	clock         time.Time
}

func newTestEnv(t *testing.T, cfg ManagerConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		mailer:        &mockMailer{},
		users:         NewMemoryUserRepository(),
		verifications: NewMemoryVerificationRepository(),
		sessions:      NewMemorySessionStore(),
		clock:         time.Now(),
	}
	env.m = NewManager(env.users, env.verifications, env.sessions, env.mailer, NewBcryptHasher(bcrypt.MinCost), cfg)
	env.m.now = func() time.Time { return env.clock }
	return env
}

// codes makes the manager hand out the given codes in order.
func (e *testEnv) codes(codes ...string) {
	var mu sync.Mutex
	e.m.newCode = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

func (e *testEnv) register(t *testing.T, email, password string) *User {
	t.Helper()
	ctx := context.Background()
	outcome, err := e.m.Register(ctx, email, password)
	require.NoError(t, err)
	require.Equal(t, OutcomeVerificationSent, outcome)
	user, err := e.m.ConfirmRegistration(ctx, email, e.mailer.lastCode(t))
	require.NoError(t, err)
	return user
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, "a@x.com", "Email Verification", mock.Anything, mock.Anything).Return(nil).Once()
	ctx := context.Background()

	user := env.register(t, "a@x.com", "pw1234")
	env.mailer.AssertExpectations(t)

	assert.Equal(t, "a@x.com", user.Email)
	assert.NotEqual(t, "pw1234", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pw1234")))
	assert.Equal(t, DefaultProfile(), user.Profile)
	assert.EqualValues(t, 1, user.Revision)

	stored, err := env.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, user.PasswordHash, stored.PasswordHash)

	sess, err := env.m.Login(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", sess.Email)
	assert.Equal(t, env.clock.Add(DefaultSessionTTL), sess.ExpiresAt)

	email, err := env.m.Authorize(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", email)
}

func TestRegisterMailsLocalizedCode(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{CodeTTL: 10 * time.Minute})
	env.codes("042042")
	env.mailer.On("Send", mock.Anything, "a@x.com", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx := i18n.WithLocale(context.Background(), "de")
	_, err := env.m.Register(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	call := env.mailer.Calls[0]
	assert.Equal(t, "E-Mail-Bestätigung", call.Arguments.String(2))
	assert.Contains(t, call.Arguments.String(3), "042042")
	assert.Contains(t, call.Arguments.String(3), "10 Minuten")
}

func TestRegisterRejectsExistingEmail(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")

	_, err := env.m.Register(context.Background(), "a@x.com", "different")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	env.mailer.AssertNumberOfCalls(t, "Send", 1)
}

func TestConfirmRegistrationLosesRaceToDuplicate(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.codes("111111", "222222")
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := env.m.Register(ctx, "a@x.com", "first1")
	require.NoError(t, err)

	// Someone else completes an account for the same email before confirmation.
	require.NoError(t, env.users.Create(ctx, &User{Email: "a@x.com", PasswordHash: "x"}))

	_, err = env.m.ConfirmRegistration(ctx, "a@x.com", "111111")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegisterNotificationFailure(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.codes("123456")
	env.mailer.On("Send", mock.Anything, "a@x.com", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	ctx := context.Background()

	_, err := env.m.Register(ctx, "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrNotificationFailure)

	user, err := env.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = env.m.ConfirmRegistration(ctx, "a@x.com", "123456")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestRegisterWithoutEmailVerification(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{NoEmailVerify: true})
	ctx := context.Background()

	outcome, err := env.m.Register(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = env.m.Login(ctx, "a@x.com", "pw1234")
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	ctx := context.Background()

	cases := []struct {
		title    string
		email    string
		password string
	}{
		{"empty email", "", "pw1234"},
		{"malformed email", "not-an-email", "pw1234"},
		{"empty password", "a@x.com", ""},
		{"short password", "a@x.com", "pw"},
		{"long password", "a@x.com", string(make([]byte, 80))},
	}
	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			_, err := env.m.Register(ctx, c.email, c.password)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	ctx := context.Background()

	t.Run("wrong password", func(t *testing.T) {
		sess, err := env.m.Login(ctx, "a@x.com", "wrong-password")
		assert.ErrorIs(t, err, ErrBadCredentials)
		assert.NotErrorIs(t, err, ErrNoSuchUser)
		assert.Nil(t, sess)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := env.m.Login(ctx, "b@x.com", "pw1234")
		assert.ErrorIs(t, err, ErrNoSuchUser)
	})

	t.Run("missing password", func(t *testing.T) {
		_, err := env.m.Login(ctx, "a@x.com", "")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestPasswordResetSupersedesEarlierCode(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.codes("900001", "100001", "200002")
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	ctx := context.Background()

	_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	c1 := env.mailer.lastCode(t)
	_, err = env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	c2 := env.mailer.lastCode(t)
	require.NotEqual(t, c1, c2)

	err = env.m.CompletePasswordReset(ctx, "a@x.com", c1, "newpw1")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)

	require.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", c2, "newpw1"))

	_, err = env.m.Login(ctx, "a@x.com", "newpw1")
	assert.NoError(t, err)
	_, err = env.m.Login(ctx, "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrBadCredentials)

	user, err := env.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 2, user.Revision)

	// the code is single use
	err = env.m.CompletePasswordReset(ctx, "a@x.com", c2, "another1")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestPasswordResetCodeExpires(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{CodeTTL: time.Minute})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	ctx := context.Background()

	_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	code := env.mailer.lastCode(t)

	env.clock = env.clock.Add(2 * time.Minute)
	err = env.m.CompletePasswordReset(ctx, "a@x.com", code, "newpw1")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestRegisterAndResetCodesDoNotCollide(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.codes("111111", "222222")
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, env.users.Create(ctx, &User{Email: "a@x.com", PasswordHash: "x"}))
	_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)

	// a reset code cannot confirm a registration
	_, err = env.m.ConfirmRegistration(ctx, "a@x.com", "111111")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
	assert.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", "111111", "newpw1"))
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	_, err := env.m.RequestPasswordReset(context.Background(), "", "nobody@x.com")
	assert.ErrorIs(t, err, ErrNoSuchUser)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestPasswordResetSessionSlot(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	ctx := context.Background()

	t.Run("anonymous browser gets a new session", func(t *testing.T) {
		sess, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, "a@x.com", sess.PendingResetEmail)
		assert.False(t, sess.Authenticated())

		email, err := env.m.Authorize(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, email)
	})

	t.Run("existing session keeps its id", func(t *testing.T) {
		login, err := env.m.Login(ctx, "a@x.com", "pw1234")
		require.NoError(t, err)

		sess, err := env.m.RequestPasswordReset(ctx, login.ID, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, login.ID, sess.ID)
		assert.Equal(t, "a@x.com", sess.PendingResetEmail)
		assert.Equal(t, "a@x.com", sess.Email)
	})

	t.Run("stale session id is replaced", func(t *testing.T) {
		sess, err := env.m.RequestPasswordReset(ctx, "gone", "a@x.com")
		require.NoError(t, err)
		assert.NotEqual(t, "gone", sess.ID)
	})
}

func TestCompletePasswordResetEndsSessions(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	ctx := context.Background()

	login, err := env.m.Login(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	_, err = env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	require.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", env.mailer.lastCode(t), "newpw1"))

	email, err := env.m.Authorize(ctx, login.ID)
	require.NoError(t, err)
	assert.Empty(t, email)
}

// conflictingUsers fails the first n updates with ErrConflict.
type conflictingUsers struct {
	UserRepository
	conflicts int
	updates   int
}

func (c *conflictingUsers) Update(ctx context.Context, u *User) error {
	c.updates++
	if c.updates <= c.conflicts {
		return ErrConflict
	}
	return c.UserRepository.Update(ctx, u)
}

func TestCompletePasswordResetConflicts(t *testing.T) {
	cases := []struct {
		title     string
		conflicts int
		expErr    error
		expTries  int
	}{
		{"no conflict", 0, nil, 1},
		{"retried once", 1, nil, 2},
		{"gives up", 2, ErrConcurrentModification, 2},
	}

	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			env := newTestEnv(t, ManagerConfig{})
			env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
			env.register(t, "a@x.com", "pw1234")
			users := &conflictingUsers{UserRepository: env.users, conflicts: c.conflicts}
			env.m.Users = users
			ctx := context.Background()

			_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
			require.NoError(t, err)

			err = env.m.CompletePasswordReset(ctx, "a@x.com", env.mailer.lastCode(t), "newpw1")
			if c.expErr != nil {
				assert.ErrorIs(t, err, c.expErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, c.expTries, users.updates)
		})
	}
}

func TestFailedDeliveryKeepsNewerCode(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.codes("111111", "222222")
	ctx := context.Background()
	require.NoError(t, env.users.Create(ctx, &User{Email: "a@x.com", Profile: DefaultProfile()}))

	mailing := make(chan struct{})
	release := make(chan struct{})
	carries := func(code string) interface{} {
		return mock.MatchedBy(func(text string) bool { return strings.Contains(text, code) })
	}
	env.mailer.On("Send", mock.Anything, "a@x.com", mock.Anything, carries("111111"), mock.Anything).
		Run(func(mock.Arguments) {
			close(mailing)
			<-release
		}).
		Return(errors.New("smtp timeout"))
	env.mailer.On("Send", mock.Anything, "a@x.com", mock.Anything, carries("222222"), mock.Anything).Return(nil)

	slow := make(chan error, 1)
	go func() {
		_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
		slow <- err
	}()

	<-mailing
	_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	close(release)
	assert.ErrorIs(t, <-slow, ErrNotificationFailure)

	require.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", "222222", "newpw1"))
}

// brokenUpdates fails every update with err.
type brokenUpdates struct {
	UserRepository
	err error
}

func (b brokenUpdates) Update(context.Context, *User) error {
	return b.err
}

func TestCompletePasswordResetKeepsCodeWhenUpdateFails(t *testing.T) {
	cases := []struct {
		title  string
		err    error
		expErr error
	}{
		{"storage failure", errors.New("connection reset"), ErrStorageFailure},
		{"concurrent modification", ErrConflict, ErrConcurrentModification},
	}

	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			env := newTestEnv(t, ManagerConfig{})
			env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
			env.register(t, "a@x.com", "pw1234")
			ctx := context.Background()

			_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
			require.NoError(t, err)
			code := env.mailer.lastCode(t)

			env.m.Users = brokenUpdates{UserRepository: env.users, err: c.err}
			err = env.m.CompletePasswordReset(ctx, "a@x.com", code, "newpw1")
			assert.ErrorIs(t, err, c.expErr)

			env.m.Users = env.users
			require.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", code, "newpw1"))
			_, err = env.m.Login(ctx, "a@x.com", "newpw1")
			assert.NoError(t, err)
		})
	}
}

// stuckSessions cannot revoke sessions by email.
type stuckSessions struct {
	SessionStore
}

func (stuckSessions) DeleteByEmail(context.Context, string) error {
	return errors.New("redis: connection pool timeout")
}

func TestCompletePasswordResetSurvivesRevocationFailure(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.register(t, "a@x.com", "pw1234")
	env.m.Sessions = stuckSessions{SessionStore: env.sessions}
	ctx := context.Background()

	_, err := env.m.RequestPasswordReset(ctx, "", "a@x.com")
	require.NoError(t, err)
	require.NoError(t, env.m.CompletePasswordReset(ctx, "a@x.com", env.mailer.lastCode(t), "newpw1"))

	_, err = env.m.Login(ctx, "a@x.com", "newpw1")
	assert.NoError(t, err)
	_, err = env.m.Login(ctx, "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

type failingUsers struct {
	UserRepository
}

func (failingUsers) FindByEmail(context.Context, string) (*User, error) {
	return nil, errors.New("connection refused")
}

func TestStorageFailureIsWrapped(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{})
	env.m.Users = failingUsers{}

	_, err := env.m.Register(context.Background(), "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrStorageFailure)

	_, err = env.m.Login(context.Background(), "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrStorageFailure)
}

type slowUsers struct {
	UserRepository
}

func (slowUsers) FindByEmail(ctx context.Context, _ string) (*User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreCallsTimeOut(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{StoreTimeout: 10 * time.Millisecond})
	env.m.Users = slowUsers{}

	_, err := env.m.Login(context.Background(), "a@x.com", "pw1234")
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, ManagerConfig{NoEmailVerify: true})
	ctx := context.Background()
	_, err := env.m.Register(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	sess, err := env.m.Login(ctx, "a@x.com", "pw1234")
	require.NoError(t, err)

	require.NoError(t, env.m.Logout(ctx, sess.ID))
	require.NoError(t, env.m.Logout(ctx, sess.ID))
	require.NoError(t, env.m.Logout(ctx, ""))

	email, err := env.m.Authorize(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestNewVerificationCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NewVerificationCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{6}$`, code)
	}
}
