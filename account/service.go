package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	"toolcustody/config"
	"toolcustody/db"
	"toolcustody/metrics"
	"toolcustody/models"
	"toolcustody/session"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrEmailNotRecognized = errors.New("email not recognized")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidUser        = errors.New("name, valid email and role are required")
	ErrForbidden          = errors.New("not permitted")
	ErrSelfChange         = errors.New("you cannot change your own role or access")
	ErrDeliveryFailed     = errors.New("could not deliver the temporary password, please retry")
)

const (
	MinPasswordLen     = 6
	TempPasswordPrefix = "TMP-"
)

// Session is the signed-in identity of one request. Middleware restores it
// and puts it in the gin context; handlers never read a global.
type Session struct {
	ID        string      `json:"-"`
	User      models.User `json:"user"`
	Remember  bool        `json:"remember"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Service struct {
	Store    db.Store
	Dir      *Directory
	Sessions *session.RememberStore
	Enroll   *session.EnrollmentStore
	Hasher   Hasher
	Notifier Notifier

	Mode        string
	SessionTTL  time.Duration
	RememberTTL time.Duration
	// BiometricAvailable is true when passkeys are configured on the server.
	BiometricAvailable bool
	PromptDelay        time.Duration

	NewID        func() string
	TempPassword func() string
}

func NewService(cfg config.Config, store db.Store, dir *Directory, sessions *session.RememberStore, enroll *session.EnrollmentStore, notifier Notifier) *Service {
	return &Service{
		Store:              store,
		Dir:                dir,
		Sessions:           sessions,
		Enroll:             enroll,
		Hasher:             HasherFor(cfg.PasswordMode),
		Notifier:           notifier,
		Mode:               cfg.PasswordMode,
		SessionTTL:         cfg.SessionTTL,
		RememberTTL:        cfg.RememberTTL,
		BiometricAvailable: cfg.RPID != "",
		PromptDelay:        1500 * time.Millisecond,
		NewID:              uuid.NewString,
		TempPassword:       TempPassword,
	}
}

// TempPassword is the fixed prefix plus four random digits.
func TempPassword() string {
	return fmt.Sprintf("%s%04d", TempPasswordPrefix, 1000+rand.IntN(9000))
}

func (s *Service) legacy() bool { return s.Mode == config.PasswordLegacy }

// SignInResult tells the client whether to offer passkey enrollment, and
// after how long.
type SignInResult struct {
	Session         Session       `json:"session"`
	PromptBiometric bool          `json:"promptBiometric"`
	PromptDelay     time.Duration `json:"-"`
}

func (s *Service) SignIn(ctx context.Context, email, password string, remember bool) (SignInResult, error) {
	u, ok := s.Dir.ByEmail(email)
	if !ok {
		return SignInResult{}, ErrInvalidCredentials
	}
	match, rehash := s.Hasher.Verify(u.Password, password)
	if !match {
		return SignInResult{}, ErrInvalidCredentials
	}
	if !u.IsEnabled {
		return SignInResult{}, ErrAccountDisabled
	}
	if rehash {
		s.upgradeHash(ctx, u, password)
	}

	sess, err := s.open(ctx, u, remember)
	if err != nil {
		return SignInResult{}, err
	}
	res := SignInResult{Session: sess}
	if s.shouldPromptBiometric(ctx, u) {
		res.PromptBiometric = true
		res.PromptDelay = s.PromptDelay
	}
	slog.Info("signed in", "user", u.ID, "remember", remember, "prompt_biometric", res.PromptBiometric)
	return res, nil
}

// SignInUser opens a session for a user that authenticated by other means
// (passkey).
func (s *Service) SignInUser(ctx context.Context, userID string, remember bool) (Session, error) {
	u, ok := s.Dir.ByID(userID)
	if !ok {
		return Session{}, ErrUserNotFound
	}
	if !u.IsEnabled {
		return Session{}, ErrAccountDisabled
	}
	return s.open(ctx, u, remember)
}

func (s *Service) open(ctx context.Context, u models.User, remember bool) (Session, error) {
	ttl := s.SessionTTL
	if remember {
		ttl = s.RememberTTL
	}
	id := s.NewID()
	if err := s.Sessions.Create(ctx, id, u, remember, ttl); err != nil {
		return Session{}, fmt.Errorf("%w: create session: %w", db.ErrWriteFailed, err)
	}
	return Session{ID: id, User: u, Remember: remember, ExpiresAt: time.Now().Add(ttl)}, nil
}

// upgradeHash replaces a legacy plaintext password with a hash. Failure is
// logged only; the next sign-in tries again.
func (s *Service) upgradeHash(ctx context.Context, u models.User, password string) {
	h, err := s.Hasher.Hash(password)
	if err != nil {
		slog.Error("hash password", "user", u.ID, "err", err)
		return
	}
	u.Password = h
	if err := s.commitUser(ctx, u); err != nil {
		slog.Warn("rehash legacy password failed", "user", u.ID, "err", err)
		return
	}
	slog.Info("legacy password rehashed", "user", u.ID)
}

// 生物识别注册提示：可用、未注册、没有待改密码，且只提示一次
func (s *Service) shouldPromptBiometric(ctx context.Context, u models.User) bool {
	if !s.BiometricAvailable || s.Enroll == nil || u.MustChangePassword {
		return false
	}
	enrolled, err := s.Enroll.IsEnrolled(ctx, u.ID)
	if err != nil || enrolled {
		return false
	}
	first, err := s.Enroll.ClaimPrompt(ctx, u.ID)
	if err != nil {
		slog.Warn("claim biometric prompt", "user", u.ID, "err", err)
		return false
	}
	return first
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, newPassword, confirm string) (models.User, error) {
	if len(newPassword) < MinPasswordLen {
		return models.User{}, ErrPasswordTooShort
	}
	if newPassword != confirm {
		return models.User{}, ErrPasswordMismatch
	}
	u, ok := s.Dir.ByID(sess.User.ID)
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	h, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return models.User{}, err
	}
	next := u
	next.Password = h
	next.MustChangePassword = false
	if err := s.commitUser(ctx, next); err != nil {
		return models.User{}, err
	}
	return next, nil
}

// ForgotResult carries the temporary password only in legacy mode, where
// it is shown in-app.
type ForgotResult struct {
	TempPassword string `json:"temporaryPassword,omitempty"`
	Delivered    bool   `json:"delivered"`
}

func (s *Service) ForgotPassword(ctx context.Context, email string) (ForgotResult, error) {
	u, ok := s.Dir.ByEmail(email)
	if !ok {
		return ForgotResult{}, ErrEmailNotRecognized
	}
	// 无法投递时不重置，否则用户会被锁在外面
	if !s.legacy() && !canDeliver(s.Notifier) {
		slog.Warn("password reset refused, no mail delivery", "user", u.ID)
		return ForgotResult{}, ErrDeliveryFailed
	}
	temp := s.TempPassword()
	h, err := s.Hasher.Hash(temp)
	if err != nil {
		return ForgotResult{}, err
	}
	next := u
	next.Password = h
	next.MustChangePassword = true
	if err := s.commitUser(ctx, next); err != nil {
		return ForgotResult{}, err
	}
	slog.Info("password reset", "user", u.ID, "mode", s.Mode)

	if s.legacy() {
		return ForgotResult{TempPassword: temp}, nil
	}
	if err := s.Notifier.SendTemporaryPassword(ctx, next, temp); err != nil {
		slog.Error("deliver temporary password", "user", u.ID, "err", err)
		return ForgotResult{}, ErrDeliveryFailed
	}
	return ForgotResult{Delivered: true}, nil
}

func canDeliver(n Notifier) bool {
	if n == nil {
		return false
	}
	if c, ok := n.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// Restore rebuilds a session from its remembered record. The freshly loaded
// user with the same email wins over the cached copy; when there is none the
// cached copy is used.
func (s *Service) Restore(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrUnauthenticated
	}
	r, err := s.Sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNoSession) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, fmt.Errorf("restore session: %w", err)
	}
	u := r.User
	if fresh, ok := s.Dir.ByEmail(r.User.Email); ok {
		u = fresh
	}
	if !u.IsEnabled {
		_ = s.Sessions.Delete(ctx, sessionID)
		return Session{}, ErrAccountDisabled
	}
	return Session{ID: sessionID, User: u, Remember: r.Remember, ExpiresAt: time.Unix(r.ExpiresAt, 0)}, nil
}

func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.Sessions.Delete(ctx, sessionID)
}

// Admin

type NewUser struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	Password string      `json:"password"`
}

// CreateUser is reserved for the ADMIN role. The initial password is
// generated when none is given and must be changed on first sign-in.
func (s *Service) CreateUser(ctx context.Context, actor models.User, in NewUser) (models.User, ForgotResult, error) {
	if actor.Role != models.RoleAdmin {
		return models.User{}, ForgotResult{}, ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if name == "" || !validEmail(email) || !in.Role.Valid() {
		return models.User{}, ForgotResult{}, ErrInvalidUser
	}
	if _, taken := s.Dir.ByEmail(email); taken {
		return models.User{}, ForgotResult{}, ErrEmailTaken
	}
	initial := in.Password
	generated := initial == ""
	if generated {
		initial = s.TempPassword()
	} else if len(initial) < MinPasswordLen {
		return models.User{}, ForgotResult{}, ErrPasswordTooShort
	}
	h, err := s.Hasher.Hash(initial)
	if err != nil {
		return models.User{}, ForgotResult{}, err
	}
	u := models.User{
		ID:                 s.NewID(),
		Name:               name,
		Role:               in.Role,
		Email:              email,
		Password:           h,
		IsEnabled:          true,
		MustChangePassword: true,
	}
	if err := s.commitUser(ctx, u); err != nil {
		return models.User{}, ForgotResult{}, err
	}
	slog.Info("user created", "user", u.ID, "role", u.Role, "by", actor.ID)

	var res ForgotResult
	if generated {
		if s.legacy() {
			res.TempPassword = initial
		} else if err := s.Notifier.SendTemporaryPassword(ctx, u, initial); err != nil {
			slog.Error("deliver initial password", "user", u.ID, "err", err)
		} else {
			res.Delivered = true
		}
	}
	return u.Public(), res, nil
}

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

func (s *Service) SetEnabled(ctx context.Context, actor models.User, userID string, enabled bool) (models.User, error) {
	u, err := s.editable(actor, userID)
	if err != nil {
		return models.User{}, err
	}
	if u.IsEnabled == enabled {
		return u.Public(), nil
	}
	u.IsEnabled = enabled
	if err := s.commitUser(ctx, u); err != nil {
		return models.User{}, err
	}
	if !enabled {
		if err := s.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
			slog.Error("revoke sessions", "user", u.ID, "err", err)
		}
	}
	slog.Info("user access changed", "user", u.ID, "enabled", enabled, "by", actor.ID)
	return u.Public(), nil
}

// SetRole changes a role. Granting or removing ADMIN needs an admin.
func (s *Service) SetRole(ctx context.Context, actor models.User, userID string, role models.Role) (models.User, error) {
	if !role.Valid() {
		return models.User{}, ErrInvalidUser
	}
	u, err := s.editable(actor, userID)
	if err != nil {
		return models.User{}, err
	}
	if (role == models.RoleAdmin || u.Role == models.RoleAdmin) && actor.Role != models.RoleAdmin {
		return models.User{}, ErrForbidden
	}
	if u.Role == role {
		return u.Public(), nil
	}
	u.Role = role
	if err := s.commitUser(ctx, u); err != nil {
		return models.User{}, err
	}
	slog.Info("user role changed", "user", u.ID, "role", role, "by", actor.ID)
	return u.Public(), nil
}

func (s *Service) editable(actor models.User, userID string) (models.User, error) {
	if !models.Can(actor.Role, models.CapManageUsers) {
		return models.User{}, ErrForbidden
	}
	if actor.ID == userID {
		return models.User{}, ErrSelfChange
	}
	u, ok := s.Dir.ByID(userID)
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) Users() []models.User { return s.Dir.List() }

// commitUser persists u and only then applies it in memory and to the
// user's live sessions.
func (s *Service) commitUser(ctx context.Context, u models.User) error {
	if err := s.saveUser(ctx, u); err != nil {
		return err
	}
	s.Dir.put(u)
	if err := s.Sessions.UpdateUser(ctx, u); err != nil {
		slog.Warn("refresh remembered sessions", "user", u.ID, "err", err)
	}
	return nil
}

func (s *Service) saveUser(ctx context.Context, u models.User) error {
	err := s.Store.UpsertUser(ctx, u)
	switch {
	case err == nil, db.IsAbsent(err):
		return nil
	case errors.Is(err, db.ErrDuplicateEmail):
		return ErrEmailTaken
	default:
		metrics.IncStoreWriteFailure("user")
		slog.Error("save user failed", "user", u.ID, "err", err)
		return fmt.Errorf("%w: %w", db.ErrWriteFailed, err)
	}
}

// IsValidation reports whether err should reach the client as a 4xx.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials, ErrAccountDisabled, ErrEmailNotRecognized,
		ErrPasswordTooShort, ErrPasswordMismatch, ErrUserNotFound, ErrEmailTaken,
		ErrInvalidUser, ErrSelfChange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
