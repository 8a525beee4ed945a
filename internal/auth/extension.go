// ABOUTME: Verifies signed requests from registered desktop extensions
// ABOUTME: Checks content hash, trusted registration, and signature over METHOD|PATH|EXTENSIONID[|HASH]

package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/gamevault/internal/registration"
	"github.com/2389/gamevault/internal/store"
)

// Extension auth headers.
const (
	HeaderExtensionID    = "X-ExtensionId"
	HeaderSignature      = "X-Signature"
	HeaderContentHash    = "X-ContentHash"
	HeaderRegistrationID = "X-RegistrationId"
)

// Verdict reasons returned to extensions. Lookup failures of every kind share
// ReasonUntrustedRegistration so callers cannot probe registration state.
const (
	ReasonMissingExtensionID    = "missing extension id"
	ReasonMissingSignature      = "missing signature"
	ReasonMissingContentHash    = "missing content hash"
	ReasonContentHashMismatch   = "content hash mismatch"
	ReasonBodyUnreadable        = "request body could not be read"
	ReasonBodyTooLarge          = "request body too large"
	ReasonMissingRegistrationID = "missing registration id"
	ReasonInvalidRegistrationID = "invalid registration id"
	ReasonUntrustedRegistration = "registration not found or not trusted"
	ReasonInvalidSignature      = "invalid signature"
	ReasonRequestCancelled      = "request cancelled"
)

// RegistrationLookup reads registrations by id.
type RegistrationLookup interface {
	GetRegistration(ctx context.Context, id int64) (*store.RegistrationRecord, error)
}

// SignatureVerifier checks a base64 signature over payload.
type SignatureVerifier interface {
	Verify(publicKey string, payload []byte, signature string) bool
}

// ExtensionVerdict is the outcome of verifying one extension request.
type ExtensionVerdict struct {
	Authorized bool
	Reason     string

	// Body holds the bytes consumed from the request body, whatever the
	// outcome. BodyRead is false when the body was left untouched.
	Body     []byte
	BodyRead bool

	// Locked is set when the client was refused by the failure lockout.
	Locked bool

	// Registration is the trusted registration on success.
	Registration *registration.Registration
	RequestID    string
}

// ExtensionAuthService authenticates requests made by extensions.
type ExtensionAuthService struct {
	registrations RegistrationLookup
	signatures    SignatureVerifier
	opts          verifierOptions
	logger        *slog.Logger
}

// NewExtensionAuthService creates an ExtensionAuthService.
func NewExtensionAuthService(registrations RegistrationLookup, signatures SignatureVerifier, logger *slog.Logger, opts ...VerifierOption) *ExtensionAuthService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExtensionAuthService{
		registrations: registrations,
		signatures:    signatures,
		opts:          applyVerifierOptions(ActorExtension, opts),
		logger:        logger.With("component", "extension-auth"),
	}
}

// extensionRequest carries the per-request values used for logging.
type extensionRequest struct {
	r              *http.Request
	id             string
	extensionID    string
	registrationID string
}

func (x *extensionRequest) attrs() []any {
	return []any{
		"request_id", x.id,
		"request", x.r.Method + " " + x.r.URL.Path,
		"extension", describeExtension(x.extensionID, x.registrationID),
	}
}

func describeExtension(extensionID, registrationID string) string {
	if extensionID == "" {
		extensionID = "<unknown>"
	}
	if registrationID == "" {
		return extensionID
	}
	return fmt.Sprintf("%s (registration %s)", extensionID, registrationID)
}

// Verify decides whether r is an authorized extension request. It never
// returns an error; every outcome is a verdict. When the body is consumed
// the bytes are returned in the verdict so callers never re-read r.Body.
func (s *ExtensionAuthService) Verify(ctx context.Context, r *http.Request) ExtensionVerdict {
	x := &extensionRequest{
		r:              r,
		id:             uuid.New().String(),
		extensionID:    r.Header.Get(HeaderExtensionID),
		registrationID: r.Header.Get(HeaderRegistrationID),
	}
	verdict := ExtensionVerdict{RequestID: x.id}

	if s.opts.locked(r) {
		verdict.Reason = ReasonLocked
		verdict.Locked = true
		logAuthFailure(s.logger, slog.LevelWarn, r, ReasonLocked, x.attrs()...)
		return verdict
	}

	signature := r.Header.Get(HeaderSignature)
	if x.extensionID == "" {
		return s.reject(x, verdict, slog.LevelWarn, ReasonMissingExtensionID)
	}
	if signature == "" {
		return s.reject(x, verdict, slog.LevelWarn, ReasonMissingSignature)
	}

	contentHash := r.Header.Get(HeaderContentHash)
	if requiresContentHash(r.Method) {
		if contentHash == "" {
			return s.reject(x, verdict, slog.LevelWarn, ReasonMissingContentHash)
		}
		if isJSON(r.Header.Get("Content-Type")) {
			body, err := s.readBody(ctx, r)
			verdict.Body, verdict.BodyRead = body, true
			if err != nil {
				return s.rejectBody(ctx, x, verdict, err)
			}
			if !contentHashMatches(body, contentHash) {
				return s.reject(x, verdict, slog.LevelError, ReasonContentHashMismatch,
					"body_bytes", len(body))
			}
		}
	}

	if x.registrationID == "" {
		return s.reject(x, verdict, slog.LevelWarn, ReasonMissingRegistrationID)
	}
	regID, err := strconv.ParseInt(x.registrationID, 10, 64)
	if err != nil || regID <= 0 {
		return s.reject(x, verdict, slog.LevelWarn, ReasonInvalidRegistrationID)
	}

	if err := ctx.Err(); err != nil {
		return s.cancelled(x, verdict)
	}

	// Read fresh on every request so a revoke applies to the very next call.
	rec, err := s.registrations.GetRegistration(ctx, regID)
	// Registration state is not charged to the lockout: a pending extension
	// polling for approval is well-formed traffic.
	switch {
	case errors.Is(err, store.ErrRegistrationNotFound):
		return s.refuse(x, verdict, slog.LevelWarn, ReasonUntrustedRegistration, "cause", "not found")
	case err != nil:
		if ctx.Err() != nil {
			return s.cancelled(x, verdict)
		}
		return s.refuse(x, verdict, slog.LevelError, ReasonUntrustedRegistration, "cause", "lookup failed", "error", err)
	}

	reg, err := registration.FromRecord(rec)
	if err != nil {
		return s.refuse(x, verdict, slog.LevelError, ReasonUntrustedRegistration, "cause", "corrupt record", "error", err)
	}
	if !reg.IsTrusted() {
		return s.refuse(x, verdict, slog.LevelInfo, ReasonUntrustedRegistration, "cause", "status "+string(reg.Status()))
	}
	if reg.ExtensionID() != x.extensionID {
		return s.reject(x, verdict, slog.LevelError, ReasonUntrustedRegistration, "cause", "extension id does not match registration")
	}

	message := CanonicalString(r.Method, r.URL.EscapedPath(), x.extensionID, contentHash)
	if !s.signatures.Verify(reg.PublicKey(), []byte(message), signature) {
		return s.reject(x, verdict, slog.LevelError, ReasonInvalidSignature)
	}

	verdict.Authorized = true
	verdict.Registration = reg
	s.logger.Info("extension request authorized", x.attrs()...)
	return verdict
}

func (s *ExtensionAuthService) reject(x *extensionRequest, v ExtensionVerdict, level slog.Level, reason string, attrs ...any) ExtensionVerdict {
	v.Authorized = false
	v.Reason = reason
	if s.opts.chargeFailure(x.r) {
		attrs = append(attrs, "locked", true)
	}
	logAuthFailure(s.logger, level, x.r, reason, append(x.attrs(), attrs...)...)
	return v
}

// refuse rejects without charging the lockout.
func (s *ExtensionAuthService) refuse(x *extensionRequest, v ExtensionVerdict, level slog.Level, reason string, attrs ...any) ExtensionVerdict {
	v.Authorized = false
	v.Reason = reason
	logAuthFailure(s.logger, level, x.r, reason, append(x.attrs(), attrs...)...)
	return v
}

func (s *ExtensionAuthService) cancelled(x *extensionRequest, v ExtensionVerdict) ExtensionVerdict {
	v.Authorized = false
	v.Reason = ReasonRequestCancelled
	s.logger.Debug("extension verification abandoned", x.attrs()...)
	return v
}

func (s *ExtensionAuthService) rejectBody(ctx context.Context, x *extensionRequest, v ExtensionVerdict, err error) ExtensionVerdict {
	if ctx.Err() != nil {
		return s.cancelled(x, v)
	}
	if errors.Is(err, errBodyTooLarge) {
		return s.reject(x, v, slog.LevelWarn, ReasonBodyTooLarge, "limit", s.opts.maxBodyBytes)
	}
	return s.reject(x, v, slog.LevelWarn, ReasonBodyUnreadable, "error", err)
}

var errBodyTooLarge = errors.New("body exceeds limit")

// readBody reads the whole body once, stopping early if ctx is cancelled or
// the limit is exceeded. The bytes read so far are always returned.
func (s *ExtensionAuthService) readBody(ctx context.Context, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return []byte{}, nil
	}

	limit := s.opts.maxBodyBytes
	body, err := io.ReadAll(io.LimitReader(&contextReader{ctx: ctx, r: r.Body}, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return body, errBodyTooLarge
	}
	return body, nil
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// CanonicalString builds the exact message extensions sign.
func CanonicalString(method, path, extensionID, contentHash string) string {
	parts := []string{method, path, extensionID}
	if contentHash != "" {
		parts = append(parts, contentHash)
	}
	return strings.Join(parts, "|")
}

// ContentHash returns the lowercase hex SHA-256 of body, the value
// extensions send in X-ContentHash. Uppercase hex is accepted on receipt.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// contentHashMatches accepts the declared digest in either hex case.
func contentHashMatches(body []byte, declared string) bool {
	want, err := hex.DecodeString(declared)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(body)
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

func requiresContentHash(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// RestoreBody replaces r.Body with the bytes a verdict consumed.
func RestoreBody(r *http.Request, v ExtensionVerdict) {
	if !v.BodyRead {
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(v.Body))
	r.ContentLength = int64(len(v.Body))
}
