// Package users handles signup, email confirmation, profile updates,
// soft-disable and password checks. Users are never hard-deleted; disabling keeps their files.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/auth"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
	"github.com/google/uuid"
)

const minPasswordLen = 8

type Options struct {
	TokenSecret    []byte
	TokenTTL       time.Duration
	ConfirmBaseURL string
	Hash           HashParams
}

type Service struct {
	store  registry.Users
	queue  queue.Queue
	opts   Options
	logger logging.Logger
	now    func() time.Time
}

func NewService(store registry.Users, q queue.Queue, opts Options, l logging.Logger) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = auth.DefaultConfirmationTTL
	}
	if opts.Hash == (HashParams{}) {
		opts.Hash = DefaultHashParams()
	}
	return &Service{store: store, queue: q, opts: opts, logger: l.With("module", "users"), now: time.Now}
}

// Register creates an unconfirmed user and queues the signup email. A failure
// to queue the email is logged and does not undo the signup.
func (s *Service) Register(ctx context.Context, nickname, email, password string) (*models.User, error) {
	nickname = strings.TrimSpace(nickname)

	if nickname == "" {
		return nil, fmt.Errorf("%w: nickname is required", common.ErrorValidation)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Nickname:     nickname,
		Email:        email,
		PasswordHash: HashPassword(password, s.opts.Hash),
	}

	user, err = s.store.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.sendConfirmation(ctx, user)
	return user, nil
}

// normalizeEmail accepts a bare address only. Display names and angle
// brackets are rejected so that one mailbox maps to exactly one stored key.
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	return strings.ToLower(addr.Address), nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLen)
	}
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *models.User) {
	log := s.logger.With("user_id", user.ID)

	tok, err := auth.IssueConfirmation(user.ID, user.Email, s.opts.TokenSecret, s.now(), s.opts.TokenTTL)
	if err != nil {
		log.Error(ctx, "issue confirmation token", "error", err)
		return
	}

	err = s.queue.Enqueue(ctx, &queue.Notification{
		Event:      models.EventSignup,
		UserID:     user.ID,
		Email:      user.Email,
		Nickname:   user.Nickname,
		ConfirmURL: s.confirmURL(tok.Value),
		Token:      tok.Value,
		IssuedAt:   tok.IssuedAt,
		ExpiresAt:  tok.ExpiresAt,
	})
	if err != nil {
		log.Error(ctx, "enqueue signup notification", "error", err)
		return
	}
	log.Info(ctx, "signup notification queued", "expires_at", tok.ExpiresAt)
}

func (s *Service) confirmURL(token string) string {
	sep := "?"
	if strings.Contains(s.opts.ConfirmBaseURL, "?") {
		sep = "&"
	}
	return s.opts.ConfirmBaseURL + sep + "token=" + url.QueryEscape(token)
}

// Confirm marks the token's user as confirmed. Confirming twice succeeds.
func (s *Service) Confirm(ctx context.Context, token string) (*models.User, error) {
	claims, err := auth.ValidateConfirmation(token, s.opts.TokenSecret, s.now())
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, auth.ErrTokenInvalid
		}
		return nil, err
	}
	if user.Disabled {
		return nil, common.ErrUserDisabled
	}
	// A token issued for an address the user has since changed away from.
	if claims.Email != "" && claims.Email != user.Email {
		return nil, auth.ErrTokenInvalid
	}
	if user.Confirmed {
		return user, nil
	}

	at := s.now()
	if _, err := s.store.MarkConfirmed(ctx, user.ID, at); err != nil {
		return nil, fmt.Errorf("error confirming user: %w", err)
	}
	user.Confirmed = true
	user.ConfirmedAt = &at

	s.logger.Info(ctx, "user confirmed", "user_id", user.ID)
	return user, nil
}

// Changes lists profile fields to update. Empty fields are left as they are.
type Changes struct {
	Nickname string
	Email    string
	Password string
}

// Update applies c to an enabled user. A new email must be free, and it
// resets confirmation and queues a fresh confirmation email.
func (s *Service) Update(ctx context.Context, userID string, c Changes) (*models.User, error) {
	c.Nickname = strings.TrimSpace(c.Nickname)
	if c.Nickname == "" && strings.TrimSpace(c.Email) == "" && c.Password == "" {
		return nil, fmt.Errorf("%w: nothing to update", common.ErrorValidation)
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.Nickname != "" {
		user.Nickname = c.Nickname
	}

	emailChanged := false
	if strings.TrimSpace(c.Email) != "" {
		email, err := normalizeEmail(c.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			user.Email = email
			user.Confirmed = false
			user.ConfirmedAt = nil
			emailChanged = true
		}
	}

	if c.Password != "" {
		if err := checkPassword(c.Password); err != nil {
			return nil, err
		}
		user.PasswordHash = HashPassword(c.Password, s.opts.Hash)
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) || errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error updating user: %w", err)
	}

	s.logger.Info(ctx, "user updated", "user_id", user.ID, "email_changed", emailChanged)
	if emailChanged {
		s.sendConfirmation(ctx, user)
	}
	return user, nil
}

// Disable soft-disables the user. Their files and history stay.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if err := s.store.DisableUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user disabled", "user_id", userID)
	return nil
}

// Authenticate checks credentials of a confirmed, enabled user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	ok, err := CheckPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	if user.Disabled {
		return nil, common.ErrUserDisabled
	}
	if !user.Confirmed {
		return nil, common.ErrNotConfirmed
	}

	return user, nil
}

// Get returns an enabled user.
func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, common.ErrUserDisabled
	}
	return user, nil
}
