// ABOUTME: Registration lifecycle commands: request, approve, reject, revoke, remove
// ABOUTME: Each command loads fresh, applies one transition, persists, and writes an audit entry

package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/registration"
	"github.com/2389/gamevault/internal/store"
)

// ReasonCode classifies a failed command.
type ReasonCode string

const (
	ReasonNotFound         ReasonCode = "not_found"
	ReasonInvalidOperation ReasonCode = "invalid_operation"
	ReasonInvalidArgument  ReasonCode = "invalid_argument"
	ReasonInternal         ReasonCode = "internal"
)

// Result is the outcome of a lifecycle command. Actor-caused failures are
// reported here, never as a Go error.
type Result struct {
	Success    bool
	ReasonCode ReasonCode
	Message    string

	// Registration is the state after the command. It is nil for failures
	// other than invalid_operation and for remove.
	Registration *registration.Registration
	// Existing is set by Request when the extension was already registered.
	Existing bool
}

func failure(code ReasonCode, format string, args ...any) Result {
	return Result{ReasonCode: code, Message: fmt.Sprintf(format, args...)}
}

// RegistrationStore is the persistence the lifecycle commands need.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, rec *store.RegistrationRecord) error
	GetRegistration(ctx context.Context, id int64) (*store.RegistrationRecord, error)
	GetRegistrationByExtensionID(ctx context.Context, extensionID string) (*store.RegistrationRecord, error)
	ListRegistrations(ctx context.Context, filter store.RegistrationFilter) ([]store.RegistrationRecord, error)
	UpdateRegistration(ctx context.Context, rec *store.RegistrationRecord) error
	DeleteRegistration(ctx context.Context, id int64) error
	AppendAuditLog(ctx context.Context, entry *store.AuditEntry) error
}

// RegistrationService runs registration lifecycle commands.
type RegistrationService struct {
	store  RegistrationStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(s RegistrationStore, logger *slog.Logger) *RegistrationService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RegistrationService{
		store:  s,
		logger: logger.With("component", "registrations"),
		now:    time.Now,
	}
}

// actorFromContext names the caller for audit entries.
func actorFromContext(ctx context.Context) string {
	authCtx := auth.FromContext(ctx)
	switch {
	case authCtx == nil:
		return "anonymous"
	case authCtx.IsInstance():
		return "instance"
	default:
		return "extension:" + authCtx.ExtensionID
	}
}

// RequestParams are the fields an extension submits to register.
type RequestParams struct {
	ExtensionID      string
	PublicKey        string
	Hostname         *string
	OS               *string
	ExtensionVersion *string
}

// Request creates a pending registration. If the extension id is already
// registered the existing record is returned unchanged with Existing set.
func (s *RegistrationService) Request(ctx context.Context, p RequestParams) Result {
	reg, err := registration.New(registration.Params{
		ExtensionID:      p.ExtensionID,
		PublicKey:        p.PublicKey,
		Hostname:         p.Hostname,
		OS:               p.OS,
		ExtensionVersion: p.ExtensionVersion,
	}, s.now())
	if err != nil {
		return failure(ReasonInvalidArgument, "%v", err)
	}
	if _, err := auth.ParsePublicKey(p.PublicKey); err != nil {
		return failure(ReasonInvalidArgument, "public key must be an SPKI RSA, ECDSA, or Ed25519 key")
	}

	existing, err := s.existingRegistration(ctx, p.ExtensionID)
	if err != nil {
		return failure(ReasonInternal, "failed to look up registration")
	}
	if existing != nil {
		return alreadyRegistered(existing)
	}

	rec := reg.Record()
	if err := s.store.CreateRegistration(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateExtension) {
			// Lost a race with a concurrent request for the same extension.
			if existing, lookupErr := s.existingRegistration(ctx, p.ExtensionID); lookupErr == nil && existing != nil {
				return alreadyRegistered(existing)
			}
		}
		s.logger.Error("failed to create registration", "extension", p.ExtensionID, "error", err)
		return failure(ReasonInternal, "failed to create registration")
	}
	reg.AssignID(rec.Id)

	s.audit(ctx, store.AuditRequestRegistration, reg, map[string]any{
		"extension_id": reg.ExtensionID(),
		"hostname":     derefOrEmpty(reg.Hostname()),
		"version":      derefOrEmpty(reg.ExtensionVersion()),
	})
	s.logger.Info("registration requested",
		"registration_id", rec.Id,
		"extension", reg.ExtensionID(),
		"hostname", derefOrEmpty(reg.Hostname()),
	)

	return Result{Success: true, Registration: reg}
}

// existingRegistration looks up a registration by extension id. It returns
// nil, nil when none exists.
func (s *RegistrationService) existingRegistration(ctx context.Context, extensionID string) (*registration.Registration, error) {
	rec, err := s.store.GetRegistrationByExtensionID(ctx, extensionID)
	if errors.Is(err, store.ErrRegistrationNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to look up registration", "extension", extensionID, "error", err)
		return nil, err
	}
	reg, err := registration.FromRecord(rec)
	if err != nil {
		s.logger.Error("stored registration is invalid", "registration_id", rec.Id, "error", err)
		return nil, err
	}
	return reg, nil
}

func alreadyRegistered(reg *registration.Registration) Result {
	return Result{Success: true, Existing: true, Registration: reg, Message: "registration already exists"}
}

// Approve trusts a pending registration.
func (s *RegistrationService) Approve(ctx context.Context, id int64) Result {
	return s.transition(ctx, id, registration.ActionApprove, store.AuditApproveRegistration)
}

// Reject refuses a pending registration.
func (s *RegistrationService) Reject(ctx context.Context, id int64) Result {
	return s.transition(ctx, id, registration.ActionReject, store.AuditRejectRegistration)
}

// Revoke withdraws trust from a trusted registration.
func (s *RegistrationService) Revoke(ctx context.Context, id int64) Result {
	return s.transition(ctx, id, registration.ActionRevoke, store.AuditRevokeRegistration)
}

func (s *RegistrationService) transition(ctx context.Context, id int64, action registration.Action, auditAction store.AuditAction) Result {
	reg, res, ok := s.load(ctx, id)
	if !ok {
		return res
	}

	from := reg.Status()
	if err := reg.Apply(action, s.now()); err != nil {
		if errors.Is(err, registration.ErrInvalidState) {
			s.logger.Warn("registration transition refused",
				"registration_id", id, "action", action, "status", from)
			return Result{
				ReasonCode:   ReasonInvalidOperation,
				Message:      fmt.Sprintf("cannot %s registration %d: it is %s", action, id, from),
				Registration: reg,
			}
		}
		s.logger.Error("registration transition failed", "registration_id", id, "action", action, "error", err)
		return failure(ReasonInternal, "failed to %s registration", action)
	}

	if err := s.store.UpdateRegistration(ctx, reg.Record()); err != nil {
		if errors.Is(err, store.ErrRegistrationNotFound) {
			return failure(ReasonNotFound, "registration %d not found", id)
		}
		s.logger.Error("failed to update registration", "registration_id", id, "action", action, "error", err)
		return failure(ReasonInternal, "failed to %s registration", action)
	}

	s.audit(ctx, auditAction, reg, map[string]any{
		"extension_id": reg.ExtensionID(),
		"from":         string(from),
		"to":           string(reg.Status()),
	})
	s.logger.Info("registration status changed",
		"registration_id", id,
		"action", action,
		"extension", reg.ExtensionID(),
		"from", from,
		"to", reg.Status(),
	)

	return Result{Success: true, Registration: reg}
}

// Remove deletes a registration regardless of its status.
func (s *RegistrationService) Remove(ctx context.Context, id int64) Result {
	reg, res, ok := s.load(ctx, id)
	if !ok {
		return res
	}

	if err := s.store.DeleteRegistration(ctx, id); err != nil {
		if errors.Is(err, store.ErrRegistrationNotFound) {
			return failure(ReasonNotFound, "registration %d not found", id)
		}
		s.logger.Error("failed to delete registration", "registration_id", id, "error", err)
		return failure(ReasonInternal, "failed to remove registration")
	}

	s.audit(ctx, store.AuditRemoveRegistration, reg, map[string]any{
		"extension_id": reg.ExtensionID(),
		"status":       string(reg.Status()),
	})
	s.logger.Info("registration removed", "registration_id", id, "extension", reg.ExtensionID(), "status", reg.Status())

	return Result{Success: true}
}

// Get returns one registration.
func (s *RegistrationService) Get(ctx context.Context, id int64) Result {
	reg, res, ok := s.load(ctx, id)
	if !ok {
		return res
	}
	return Result{Success: true, Registration: reg}
}

// List returns registrations, optionally only those in status.
func (s *RegistrationService) List(ctx context.Context, status *registration.Status) ([]*registration.Registration, error) {
	var filter store.RegistrationFilter
	if status != nil {
		st := string(*status)
		filter.Status = &st
	}

	recs, err := s.store.ListRegistrations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}

	regs := make([]*registration.Registration, 0, len(recs))
	for i := range recs {
		reg, err := registration.FromRecord(&recs[i])
		if err != nil {
			return nil, fmt.Errorf("registration %d: %w", recs[i].Id, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (s *RegistrationService) load(ctx context.Context, id int64) (*registration.Registration, Result, bool) {
	rec, err := s.store.GetRegistration(ctx, id)
	if errors.Is(err, store.ErrRegistrationNotFound) {
		return nil, failure(ReasonNotFound, "registration %d not found", id), false
	}
	if err != nil {
		s.logger.Error("failed to load registration", "registration_id", id, "error", err)
		return nil, failure(ReasonInternal, "failed to load registration"), false
	}

	reg, err := registration.FromRecord(rec)
	if err != nil {
		s.logger.Error("stored registration is invalid", "registration_id", id, "error", err)
		return nil, failure(ReasonInternal, "stored registration is invalid"), false
	}
	return reg, Result{}, true
}

// audit appends an entry; failures are logged and do not fail the command.
func (s *RegistrationService) audit(ctx context.Context, action store.AuditAction, reg *registration.Registration, detail map[string]any) {
	err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      actorFromContext(ctx),
		Action:     action,
		TargetType: "registration",
		TargetID:   strconv.FormatInt(reg.MustID(), 10),
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn("failed to write audit entry", "action", action, "registration_id", reg.MustID(), "error", err)
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
