package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"medibot/internal/i18n"
)

const (
	DefaultCodeTTL      = 15 * time.Minute
	DefaultSessionTTL   = 24 * time.Hour
	DefaultStoreTimeout = 5 * time.Second

	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Mailer delivers a message. Implemented by email.Sender.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

type ManagerConfig struct {
	CodeTTL      time.Duration
	SessionTTL   time.Duration
	StoreTimeout time.Duration
	// NoEmailVerify creates accounts on Register without a confirmation code.
	NoEmailVerify bool
}

// Outcome of a successful Register call.
type Outcome int

const (
	OutcomeVerificationSent Outcome = iota + 1
	OutcomeCreated
)

// Manager owns the credential and verification-code lifecycle: registration, login,
// password reset and the session records they produce.
type Manager struct {
	Users         UserRepository
	Verifications VerificationRepository
	Sessions      SessionStore
	Mailer        Mailer
	Hasher        PasswordHasher

	cfg     ManagerConfig
	now     func() time.Time
	newCode func() (string, error)
}

func NewManager(users UserRepository, verifications VerificationRepository, sessions SessionStore, mailer Mailer, hasher PasswordHasher, cfg ManagerConfig) *Manager {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Manager{
		Users:         users,
		Verifications: verifications,
		Sessions:      sessions,
		Mailer:        mailer,
		Hasher:        hasher,
		cfg:           cfg,
		now:           time.Now,
		newCode:       NewVerificationCode,
	}
}

func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

// Register starts account creation. Unless email verification is disabled, the hashed
// password is parked in a pending verification and the account is only created by
// ConfirmRegistration.
func (m *Manager) Register(ctx context.Context, email, password string) (Outcome, error) {
	if err := validateEmail(email); err != nil {
		return 0, err
	}
	if err := validateNewPassword(password); err != nil {
		return 0, err
	}

	existing, err := m.findUser(ctx, email)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrAlreadyRegistered
	}

	hash, err := m.Hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	if m.cfg.NoEmailVerify {
		if _, err := m.createUser(ctx, email, hash); err != nil {
			return 0, err
		}
		return OutcomeCreated, nil
	}

	if err := m.issue(ctx, email, PurposeRegister, hash); err != nil {
		return 0, err
	}
	return OutcomeVerificationSent, nil
}

// ConfirmRegistration consumes the registration code and commits the account. The
// store's unique key decides races between two confirmations for the same email.
func (m *Manager) ConfirmRegistration(ctx context.Context, email, code string) (*User, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateCode(code); err != nil {
		return nil, err
	}

	v, err := m.consume(ctx, email, PurposeRegister, code)
	if err != nil {
		return nil, err
	}
	return m.createUser(ctx, email, v.PasswordHash)
}

func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	if err := validation.Validate(email, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: email: %v", ErrValidation, err)
	}
	if err := validation.Validate(password, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: password: %v", ErrValidation, err)
	}

	user, err := m.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoSuchUser
	}
	if !m.Hasher.Compare(user.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	now := m.now()
	sess := Session{
		ID:        NewSessionID(),
		Email:     user.Email,
		LoginTime: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}

	rctx, cancel := m.remote(ctx)
	defer cancel()
	if err := m.Sessions.Create(rctx, sess); err != nil {
		return nil, storageErr("create session", err)
	}
	return &sess, nil
}

// RequestPasswordReset emails a fresh reset code, superseding any earlier one, and records
// the email in the caller's session. A new anonymous session is returned when sessionID
// does not name a live session; the caller must hand its id to the browser.
func (m *Manager) RequestPasswordReset(ctx context.Context, sessionID, email string) (*Session, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	user, err := m.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoSuchUser
	}

	if err := m.issue(ctx, email, PurposeReset, ""); err != nil {
		return nil, err
	}
	return m.rememberPendingReset(ctx, sessionID, email)
}

// CompletePasswordReset consumes the reset code and replaces the password. A stale
// revision is retried once against a fresh copy of the user. If the password cannot be
// stored the code is put back so the user can try again with it.
func (m *Manager) CompletePasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validateCode(code); err != nil {
		return err
	}
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}

	v, err := m.consume(ctx, email, PurposeReset, code)
	if err != nil {
		return err
	}

	hash, err := m.Hasher.Hash(newPassword)
	if err != nil {
		m.reinstate(ctx, v)
		return fmt.Errorf("hash password: %w", err)
	}

	if err := m.replacePassword(ctx, email, hash); err != nil {
		if !errors.Is(err, ErrNoSuchUser) {
			m.reinstate(ctx, v)
		}
		return err
	}
	m.endSessions(ctx, email)
	return nil
}

func (m *Manager) replacePassword(ctx context.Context, email, hash string) error {
	for attempt := 0; attempt < 2; attempt++ {
		err := m.updatePassword(ctx, email, hash)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrConcurrentModification
}

// Session returns the live session for id, or nil.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	rctx, cancel := m.remote(ctx)
	defer cancel()

	sess, err := m.Sessions.Get(rctx, id)
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return sess, nil
}

// Authorize returns the email bound to the session, or "" for missing, expired or
// anonymous sessions.
func (m *Manager) Authorize(ctx context.Context, id string) (string, error) {
	sess, err := m.Session(ctx, id)
	if err != nil {
		return "", err
	}
	if !sess.Authenticated() {
		return "", nil
	}
	return sess.Email, nil
}

// User returns the account for email, or nil when there is none.
func (m *Manager) User(ctx context.Context, email string) (*User, error) {
	return m.findUser(ctx, email)
}

func (m *Manager) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	rctx, cancel := m.remote(ctx)
	defer cancel()

	if err := m.Sessions.Delete(rctx, id); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}

func (m *Manager) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.StoreTimeout)
}

func (m *Manager) findUser(ctx context.Context, email string) (*User, error) {
	rctx, cancel := m.remote(ctx)
	defer cancel()

	user, err := m.Users.FindByEmail(rctx, email)
	if err != nil {
		return nil, storageErr("find user", err)
	}
	return user, nil
}

func (m *Manager) createUser(ctx context.Context, email, hash string) (*User, error) {
	rctx, cancel := m.remote(ctx)
	defer cancel()

	user := &User{
		Email:        email,
		PasswordHash: hash,
		Profile:      DefaultProfile(),
	}
	if err := m.Users.Create(rctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrAlreadyRegistered
		}
		return nil, storageErr("create user", err)
	}
	return user, nil
}

// updatePassword re-reads the user so the update carries the latest revision.
func (m *Manager) updatePassword(ctx context.Context, email, hash string) error {
	user, err := m.findUser(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoSuchUser
	}

	rctx, cancel := m.remote(ctx)
	defer cancel()

	user.PasswordHash = hash
	switch err := m.Users.Update(rctx, user); {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return ErrConflict
	case errors.Is(err, ErrNotFound):
		return ErrNoSuchUser
	default:
		return storageErr("update user", err)
	}
}

// issue stores a new code for (email, purpose) and mails it. When the mail cannot be
// sent the pending record is withdrawn so no unusable code is left behind.
func (m *Manager) issue(ctx context.Context, email string, purpose Purpose, passwordHash string) error {
	code, err := m.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	now := m.now()
	v := &Verification{
		Email:        email,
		Purpose:      purpose,
		CodeHash:     HashString(code),
		PasswordHash: passwordHash,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.cfg.CodeTTL),
	}

	rctx, cancel := m.remote(ctx)
	err = m.Verifications.Issue(rctx, v)
	cancel()
	if err != nil {
		return storageErr("issue code", err)
	}

	if err := m.notify(ctx, email, purpose, code); err != nil {
		wctx, wcancel := m.remote(ctx)
		if werr := m.Verifications.Withdraw(wctx, email, purpose, v.CodeHash); werr != nil {
			log.Printf("withdraw %s code for %s failed: %v", purpose, email, werr)
		}
		wcancel()
		return fmt.Errorf("%w: %w", ErrNotificationFailure, err)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, email string, purpose Purpose, code string) error {
	locale := i18n.LocaleFromContext(ctx)
	minutes := int(m.cfg.CodeTTL / time.Minute)

	var content i18n.EmailContent
	switch purpose {
	case PurposeRegister:
		content = i18n.VerificationEmail(locale, code, minutes)
	default:
		content = i18n.ResetCodeEmail(locale, code, minutes)
	}

	rctx, cancel := m.remote(ctx)
	defer cancel()
	return m.Mailer.Send(rctx, email, content.Subject, content.Text, content.HTML)
}

func (m *Manager) consume(ctx context.Context, email string, purpose Purpose, code string) (*Verification, error) {
	rctx, cancel := m.remote(ctx)
	defer cancel()

	v, err := m.Verifications.Consume(rctx, email, purpose, HashString(code), m.now())
	if err != nil {
		return nil, storageErr("consume code", err)
	}
	if v == nil {
		return nil, ErrInvalidOrExpiredCode
	}
	return v, nil
}

// reinstate returns a consumed code to the store unless a newer one has been issued.
func (m *Manager) reinstate(ctx context.Context, v *Verification) {
	rctx, cancel := m.remote(context.WithoutCancel(ctx))
	defer cancel()
	if err := m.Verifications.Reinstate(rctx, v); err != nil {
		log.Printf("reinstate %s code for %s failed: %v", v.Purpose, v.Email, err)
	}
}

func (m *Manager) rememberPendingReset(ctx context.Context, sessionID, email string) (*Session, error) {
	rctx, cancel := m.remote(ctx)
	defer cancel()

	if sessionID != "" {
		err := m.Sessions.SetPendingReset(rctx, sessionID, email)
		if err == nil {
			sess, err := m.Sessions.Get(rctx, sessionID)
			if err != nil {
				return nil, storageErr("get session", err)
			}
			if sess != nil {
				return sess, nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, storageErr("update session", err)
		}
	}

	now := m.now()
	sess := Session{
		ID:                NewSessionID(),
		PendingResetEmail: email,
		LoginTime:         now,
		ExpiresAt:         now.Add(m.cfg.CodeTTL),
	}
	if err := m.Sessions.Create(rctx, sess); err != nil {
		return nil, storageErr("create session", err)
	}
	return &sess, nil
}

func (m *Manager) endSessions(ctx context.Context, email string) {
	rctx, cancel := m.remote(ctx)
	defer cancel()
	if err := m.Sessions.DeleteByEmail(rctx, email); err != nil {
		log.Printf("revoke sessions for %s after password reset failed: %v", email, err)
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return fmt.Errorf("%w: email: %v", ErrValidation, err)
	}
	return nil
}

func validateNewPassword(password string) error {
	if err := validation.Validate(password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)); err != nil {
		return fmt.Errorf("%w: password: %v", ErrValidation, err)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password: must be at most %d bytes", ErrValidation, maxPasswordLength)
	}
	return nil
}

func validateCode(code string) error {
	if err := validation.Validate(code, validation.Required, validation.Match(codePattern)); err != nil {
		return fmt.Errorf("%w: code: %v", ErrValidation, err)
	}
	return nil
}
