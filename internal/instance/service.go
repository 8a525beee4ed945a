// ABOUTME: Operator credential flows: one-time setup, login, logout, password change, session upkeep
// ABOUTME: Passwords are scrypt hashed through auth.Cryptography; sessions live in the store

package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/store"
)

// MinPasswordLength is the shortest accepted operator password.
const MinPasswordLength = 8

var (
	ErrAlreadySetUp    = errors.New("instance already set up")
	ErrNotSetUp        = errors.New("instance not set up")
	ErrInvalidPassword = errors.New("invalid password")
	ErrWeakPassword    = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// Store is the persistence the credential flows need.
type Store interface {
	store.SettingsStore
	store.SessionStore
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// PasswordHasher derives and checks password hashes and mints session ids.
type PasswordHasher interface {
	HashPassword(password string) (auth.PasswordHash, error)
	VerifyPassword(password string, stored auth.PasswordHash) bool
	CreateSessionID() (string, error)
}

// Service manages the operator credential and sessions.
type Service struct {
	store  Store
	crypto PasswordHasher
	logger *slog.Logger
	now    func() time.Time

	// credMu serializes flows that rewrite the settings row.
	credMu sync.Mutex
}

// NewService creates a Service.
func NewService(s Store, crypto PasswordHasher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:  s,
		crypto: crypto,
		logger: logger.With("component", "instance"),
		now:    time.Now,
	}
}

// dummyHash is verified against when no credential exists so a failed login
// costs the same scrypt work either way.
var dummyHash = auth.PasswordHash{
	Salt: strings.Repeat("00", auth.SaltLength),
	Hash: strings.Repeat("00", auth.HashLength),
}

// IsSetUp reports whether the operator password has been set.
func (s *Service) IsSetUp(ctx context.Context) (bool, error) {
	_, err := s.store.GetInstanceAuthSettings(ctx)
	if errors.Is(err, store.ErrSettingsNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading instance settings: %w", err)
	}
	return true, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Setup stores the first operator password. It fails with ErrAlreadySetUp
// once a password exists.
func (s *Service) Setup(ctx context.Context, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()

	ok, err := s.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadySetUp
	}

	if err := s.saveCredential(ctx, password); err != nil {
		return err
	}

	s.audit(ctx, store.AuditInstanceSetup, nil)
	s.logger.Info("instance password set")
	return nil
}

// SetPassword replaces the operator password without checking the old one
// and revokes every session. It serves local recovery from the CLI.
func (s *Service) SetPassword(ctx context.Context, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()

	existed, err := s.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if err := s.saveCredential(ctx, password); err != nil {
		return err
	}
	if err := s.store.DeleteAllSessions(ctx); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	action := store.AuditInstanceSetup
	if existed {
		action = store.AuditInstancePasswordReset
	}
	s.audit(ctx, action, map[string]any{"source": "cli"})
	s.logger.Info("instance password reset", "existed", existed)
	return nil
}

// Login checks password and opens a new session, returning its id.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	settings, err := s.store.GetInstanceAuthSettings(ctx)
	if errors.Is(err, store.ErrSettingsNotFound) {
		_ = s.crypto.VerifyPassword(password, dummyHash)
		return "", ErrNotSetUp
	}
	if err != nil {
		return "", fmt.Errorf("reading instance settings: %w", err)
	}

	if !s.crypto.VerifyPassword(password, auth.PasswordHash{Salt: settings.Salt, Hash: settings.PasswordHash}) {
		s.logger.Warn("operator login failed")
		return "", ErrInvalidPassword
	}

	id, err := s.crypto.CreateSessionID()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	if err := s.store.CreateSession(ctx, &store.Session{Id: id, CreatedAt: now, LastUsedAt: now}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("operator logged in")
	return id, nil
}

// Logout ends one session. Unknown ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	s.logger.Info("operator logged out")
	return nil
}

// ChangePassword replaces the password after checking the current one, then
// revokes every session including the caller's.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()

	settings, err := s.store.GetInstanceAuthSettings(ctx)
	if errors.Is(err, store.ErrSettingsNotFound) {
		return ErrNotSetUp
	}
	if err != nil {
		return fmt.Errorf("reading instance settings: %w", err)
	}
	if !s.crypto.VerifyPassword(oldPassword, auth.PasswordHash{Salt: settings.Salt, Hash: settings.PasswordHash}) {
		s.logger.Warn("password change refused: current password mismatch")
		return ErrInvalidPassword
	}

	if err := s.saveCredential(ctx, newPassword); err != nil {
		return err
	}
	if err := s.store.DeleteAllSessions(ctx); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	s.audit(ctx, store.AuditInstancePasswordReset, nil)
	s.logger.Info("instance password changed")
	return nil
}

// Touch records use of a session. It implements auth.SessionToucher.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	if err := s.store.TouchSession(ctx, sessionID, s.now().UTC()); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// SweepIdle deletes sessions unused for longer than timeout.
func (s *Service) SweepIdle(ctx context.Context, timeout time.Duration) (int, error) {
	n, err := s.store.DeleteSessionsIdleSince(ctx, s.now().UTC().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("sweeping idle sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired idle sessions", "count", n)
	}
	return n, nil
}

// RunSweeper calls SweepIdle every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepIdle(ctx, timeout); err != nil && ctx.Err() == nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) saveCredential(ctx context.Context, password string) error {
	hash, err := s.crypto.HashPassword(password)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	err = s.store.SaveInstanceAuthSettings(ctx, &store.InstanceAuthSettings{
		PasswordHash:  hash.Hash,
		Salt:          hash.Salt,
		CreatedAt:     now,
		LastUpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("saving instance settings: %w", err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action store.AuditAction, detail map[string]any) {
	err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "instance",
		Action:     action,
		TargetType: "instance",
		TargetID:   strconv.Itoa(store.InstanceSettingsID),
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn("failed to write audit entry", "action", action, "error", err)
	}
}
