// Package gateway translates between share metadata and the external object
// store. It issues presigned upload and download URLs, enforces the upload
// policy and drives the share state machine. It never streams file bytes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/pkg/models"
	"github.com/sharesync/sharesync/pkg/storage"
	"github.com/sharesync/sharesync/pkg/store"
)

// Policy holds the upload admission rules.
type Policy struct {
	// MaxSizeBytes caps a single object.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`

	// AllowedExpiries is the closed set of expiry durations a client may
	// choose from.
	AllowedExpiries []time.Duration `mapstructure:"allowed_expiries" yaml:"allowed_expiries"`

	// AllowedMIMEPrefixes, when non-empty, restricts uploads to MIME types
	// matching one of the prefixes. BlockedMIMETypes are exact-match denials
	// applied either way.
	AllowedMIMEPrefixes []string `mapstructure:"allowed_mime_prefixes" yaml:"allowed_mime_prefixes"`
	BlockedMIMETypes    []string `mapstructure:"blocked_mime_types" yaml:"blocked_mime_types"`

	UploadURLTTL   time.Duration `mapstructure:"upload_url_ttl" yaml:"upload_url_ttl"`
	DownloadURLTTL time.Duration `mapstructure:"download_url_ttl" yaml:"download_url_ttl"`

	// UserQuotaBytes caps the total active bytes per owner; zero disables
	// the quota.
	UserQuotaBytes int64 `mapstructure:"user_quota_bytes" yaml:"user_quota_bytes"`

	// MaxInFlightUploads caps concurrent pending_upload shares per owner.
	MaxInFlightUploads int64 `mapstructure:"max_in_flight_uploads" yaml:"max_in_flight_uploads"`

	// AllowAnonymousUploads permits share creation without a session.
	AllowAnonymousUploads bool `mapstructure:"allow_anonymous_uploads" yaml:"allow_anonymous_uploads"`
}

// ApplyDefaults fills in zero values with production defaults.
func (p *Policy) ApplyDefaults() {
	if p.MaxSizeBytes == 0 {
		p.MaxSizeBytes = 2 << 30 // 2 GiB
	}
	if len(p.AllowedExpiries) == 0 {
		p.AllowedExpiries = []time.Duration{
			time.Hour,
			24 * time.Hour,
			3 * 24 * time.Hour,
			7 * 24 * time.Hour,
		}
	}
	if p.UploadURLTTL == 0 {
		p.UploadURLTTL = 15 * time.Minute
	}
	if p.DownloadURLTTL == 0 {
		p.DownloadURLTTL = 5 * time.Minute
	}
	if p.MaxInFlightUploads == 0 {
		p.MaxInFlightUploads = 10
	}
}

// Validate checks the policy for consistency.
func (p *Policy) Validate() error {
	if p.MaxSizeBytes <= 0 {
		return fmt.Errorf("max_size_bytes must be positive")
	}
	if p.UploadURLTTL <= 0 || p.DownloadURLTTL <= 0 {
		return fmt.Errorf("url ttls must be positive")
	}
	for _, d := range p.AllowedExpiries {
		if d <= 0 {
			return fmt.Errorf("allowed expiry %s must be positive", d)
		}
	}
	return nil
}

func (p *Policy) expiryAllowed(d time.Duration) bool {
	for _, allowed := range p.AllowedExpiries {
		if d == allowed {
			return true
		}
	}
	return false
}

func (p *Policy) mimeAllowed(mime string) bool {
	for _, blocked := range p.BlockedMIMETypes {
		if mime == blocked {
			return false
		}
	}
	if len(p.AllowedMIMEPrefixes) == 0 {
		return true
	}
	for _, prefix := range p.AllowedMIMEPrefixes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

// Gateway implements the cloud-mode share operations over a metadata store
// and an object store.
type Gateway struct {
	shares  store.ShareStore
	objects storage.ObjectStore
	policy  Policy
	now     func() time.Time
}

// New creates a Gateway. The policy is defaulted and validated by the
// caller (config loading), not here.
func New(shares store.ShareStore, objects storage.ObjectStore, policy Policy) *Gateway {
	return &Gateway{
		shares:  shares,
		objects: objects,
		policy:  policy,
		now:     time.Now,
	}
}

// UploadRequest carries the client's declared upload parameters.
type UploadRequest struct {
	// OwnerUserID is nil for anonymous uploads.
	OwnerUserID  *string
	OriginalName string
	SizeBytes    int64
	MimeType     string
	Expiry       time.Duration

	// Password, when set, gates downloads behind a shared secret.
	Password string

	// DownloadLimit caps download issuances; zero means unlimited.
	DownloadLimit int
}

// UploadGrant is the result of a successful upload issuance.
type UploadGrant struct {
	ShareID   string
	Upload    *storage.PresignedURL
	ExpiresAt time.Time
}

// DownloadGrant is the result of a successful download issuance.
type DownloadGrant struct {
	Download      *storage.PresignedURL
	Filename      string
	SizeBytes     int64
	ExpiresAt     time.Time
	DownloadCount int
}

// IssueUpload validates the request against the policy, creates the share
// in pending_upload and returns a presigned PUT scoped to the exact storage
// key and byte size. Every call allocates a fresh share id; retries by the
// client create independent shares and the unclaimed one expires.
func (g *Gateway) IssueUpload(ctx context.Context, req UploadRequest) (*UploadGrant, error) {
	if req.OriginalName == "" || req.SizeBytes <= 0 || req.MimeType == "" {
		return nil, models.ErrInvalidShare
	}
	if req.OwnerUserID == nil && !g.policy.AllowAnonymousUploads {
		return nil, models.ErrUnauthenticated
	}
	if req.SizeBytes > g.policy.MaxSizeBytes {
		return nil, models.ErrOversize
	}
	if !g.policy.mimeAllowed(req.MimeType) {
		return nil, models.ErrUnsupportedMedia
	}
	if !g.policy.expiryAllowed(req.Expiry) {
		return nil, models.ErrInvalidExpiry
	}
	if req.DownloadLimit < 0 {
		return nil, models.ErrInvalidShare
	}

	if req.OwnerUserID != nil {
		if err := g.checkQuota(ctx, *req.OwnerUserID, req.SizeBytes); err != nil {
			return nil, err
		}
	}

	var passwordHash string
	if req.Password != "" {
		hash, err := HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hash
	}

	now := g.now()
	shareID := NewShareID()
	share := &models.Share{
		ID:            shareID,
		OwnerUserID:   req.OwnerUserID,
		StorageKey:    StorageKey(shareID, req.OriginalName),
		OriginalName:  req.OriginalName,
		SizeBytes:     req.SizeBytes,
		MimeType:      req.MimeType,
		PasswordHash:  passwordHash,
		DownloadLimit: req.DownloadLimit,
		CreatedAt:     now,
		ExpiresAt:     now.Add(req.Expiry),
	}

	if err := g.shares.CreateSharePending(ctx, share); err != nil {
		if errors.Is(err, models.ErrDuplicateShare) {
			// 144 bits of entropy colliding means the id generator is
			// broken, not bad luck.
			return nil, fmt.Errorf("share id collision on %s: %w", shareID, err)
		}
		return nil, err
	}

	upload, err := g.objects.PresignPut(ctx, share.StorageKey, share.SizeBytes, share.MimeType, g.policy.UploadURLTTL)
	if err != nil {
		// The pending row would never be finalized; retire it now instead
		// of leaving it for the sweeper.
		if terr := g.shares.TransitionState(ctx, shareID, models.ShareDeleted); terr != nil {
			logger.Warn("failed to retire share after presign error", "share_id", shareID, "error", terr)
		}
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &UploadGrant{
		ShareID:   shareID,
		Upload:    upload,
		ExpiresAt: share.ExpiresAt,
	}, nil
}

func (g *Gateway) checkQuota(ctx context.Context, ownerID string, size int64) error {
	if g.policy.MaxInFlightUploads > 0 {
		inFlight, err := g.shares.CountInFlightUploads(ctx, ownerID)
		if err != nil {
			return err
		}
		if inFlight >= g.policy.MaxInFlightUploads {
			return models.ErrQuotaExceeded
		}
	}
	if g.policy.UserQuotaBytes > 0 {
		used, err := g.shares.SumActiveBytes(ctx, ownerID)
		if err != nil {
			return err
		}
		if used+size > g.policy.UserQuotaBytes {
			return models.ErrQuotaExceeded
		}
	}
	return nil
}

// FinalizeUpload confirms the object landed in storage and makes the share
// downloadable. Repeated calls after success are no-ops. A missing object
// or a size mismatch retires the share and fails with ErrUploadNotFound.
func (g *Gateway) FinalizeUpload(ctx context.Context, shareID string) (*models.Share, error) {
	share, err := g.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}

	switch share.State {
	case models.ShareAvailable:
		return share, nil
	case models.SharePendingUpload:
		// fall through to verification
	default:
		return nil, models.ErrInvalidState
	}

	info, err := g.objects.Stat(ctx, share.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			g.retireShare(ctx, shareID)
			return nil, models.ErrUploadNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if info.SizeBytes != share.SizeBytes {
		logger.Warn("finalize size mismatch",
			"share_id", shareID,
			"declared", share.SizeBytes,
			"actual", info.SizeBytes)
		g.retireShare(ctx, shareID)
		return nil, models.ErrUploadNotFound
	}

	return g.shares.MarkShareAvailable(ctx, shareID, info.SizeBytes)
}

func (g *Gateway) retireShare(ctx context.Context, shareID string) {
	if err := g.shares.TransitionState(ctx, shareID, models.ShareDeleted); err != nil {
		logger.Warn("failed to retire share", "share_id", shareID, "error", err)
	}
}

// IssueDownload checks the password gate, atomically registers the download
// (expiry, state and limit checks plus counter increment happen in one store
// transaction) and returns a presigned GET. The counter counts issuances,
// not completed transfers.
func (g *Gateway) IssueDownload(ctx context.Context, shareID, password, requesterHash string) (*DownloadGrant, error) {
	share, err := g.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}

	// Password is checked before the counter moves so a wrong guess does
	// not consume a limited download.
	if share.HasPassword() {
		if password == "" {
			return nil, models.ErrPasswordRequired
		}
		if !VerifyPassword(password, share.PasswordHash) {
			return nil, models.ErrPasswordIncorrect
		}
	}

	share, err = g.shares.RegisterDownload(ctx, shareID, g.now(), requesterHash)
	if err != nil {
		return nil, err
	}

	download, err := g.objects.PresignGet(ctx, share.StorageKey, share.OriginalName, g.policy.DownloadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}

	return &DownloadGrant{
		Download:      download,
		Filename:      share.OriginalName,
		SizeBytes:     share.SizeBytes,
		ExpiresAt:     share.ExpiresAt,
		DownloadCount: share.DownloadCount,
	}, nil
}

// ShareView is the metadata-only public view of a share. It never carries
// a presigned URL.
type ShareView struct {
	ID            string    `json:"id"`
	OriginalName  string    `json:"original_name"`
	SizeBytes     int64     `json:"size_bytes"`
	MimeType      string    `json:"mime_type"`
	HasPassword   bool      `json:"has_password"`
	State         string    `json:"state"`
	DownloadCount int       `json:"download_count"`
	DownloadLimit int       `json:"download_limit,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// NewShareView builds the public view for a share.
func NewShareView(s *models.Share) *ShareView {
	return &ShareView{
		ID:            s.ID,
		OriginalName:  s.OriginalName,
		SizeBytes:     s.SizeBytes,
		MimeType:      s.MimeType,
		HasPassword:   s.HasPassword(),
		State:         string(s.State),
		DownloadCount: s.DownloadCount,
		DownloadLimit: s.DownloadLimit,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
}

// GetShareView returns the metadata view of a live share. Expired or
// retired shares report ErrShareExpired / ErrShareGone so the API maps
// them to the right status.
func (g *Gateway) GetShareView(ctx context.Context, shareID string) (*ShareView, error) {
	share, err := g.shares.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.IsExpired(g.now()) {
		return nil, models.ErrShareExpired
	}
	if share.State != models.ShareAvailable && share.State != models.SharePendingUpload {
		return nil, models.ErrShareGone
	}
	return NewShareView(share), nil
}

// ListOwnerShares returns the owner's shares as metadata views.
func (g *Gateway) ListOwnerShares(ctx context.Context, ownerID string, includeInactive bool) ([]*ShareView, error) {
	shares, err := g.shares.ListSharesByOwner(ctx, ownerID, includeInactive)
	if err != nil {
		return nil, err
	}
	views := make([]*ShareView, 0, len(shares))
	for _, s := range shares {
		views = append(views, NewShareView(s))
	}
	return views, nil
}

// SetPassword sets or clears the download password on an owned share.
func (g *Gateway) SetPassword(ctx context.Context, shareID, callerUserID, password string) error {
	share, err := g.shares.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.OwnerUserID == nil || *share.OwnerUserID != callerUserID {
		return models.ErrForbidden
	}

	hash := ""
	if password != "" {
		hash, err = HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
	}
	return g.shares.SetPasswordHash(ctx, shareID, hash)
}

// Revoke retires an owned share ahead of its expiry. The object delete is
// attempted inline; if it fails the share parks in expired and the sweeper
// retries the delete with backoff. Revoking an already retired share is a
// no-op.
func (g *Gateway) Revoke(ctx context.Context, shareID, callerUserID string) error {
	share, err := g.shares.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.OwnerUserID == nil || *share.OwnerUserID != callerUserID {
		return models.ErrForbidden
	}
	if share.State == models.ShareDeleted {
		return nil
	}

	if err := g.objects.Delete(ctx, share.StorageKey); err != nil {
		logger.Warn("revoke object delete failed, deferring to sweeper",
			"share_id", shareID, "error", err)
		if share.State != models.ShareExpired {
			return g.shares.TransitionState(ctx, shareID, models.ShareExpired)
		}
		return nil
	}
	return g.shares.TransitionState(ctx, shareID, models.ShareDeleted)
}
