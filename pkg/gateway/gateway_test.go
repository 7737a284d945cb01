//go:build integration

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sharesync/sharesync/pkg/models"
	"github.com/sharesync/sharesync/pkg/storage/memory"
	"github.com/sharesync/sharesync/pkg/store"
)

func newTestGateway(t *testing.T, mutate func(*Policy)) (*Gateway, *store.GORMStore, *memory.ObjectStore) {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	objects := memory.New()
	policy := Policy{AllowAnonymousUploads: true}
	policy.ApplyDefaults()
	if mutate != nil {
		mutate(&policy)
	}
	return New(s, objects, policy), s, objects
}

func testOwner(t *testing.T, s *store.GORMStore) *string {
	t.Helper()
	user, err := s.UpsertUser(context.Background(), "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	return &user.ID
}

func uploadReq(owner *string) UploadRequest {
	return UploadRequest{
		OwnerUserID:  owner,
		OriginalName: "report.pdf",
		SizeBytes:    1024,
		MimeType:     "application/pdf",
		Expiry:       time.Hour,
	}
}

func TestIssueUploadPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("oversize", func(t *testing.T) {
		g, _, _ := newTestGateway(t, func(p *Policy) { p.MaxSizeBytes = 512 })
		req := uploadReq(nil)
		if _, err := g.IssueUpload(ctx, req); !errors.Is(err, models.ErrOversize) {
			t.Errorf("expected ErrOversize, got %v", err)
		}
	})

	t.Run("blocked mime", func(t *testing.T) {
		g, _, _ := newTestGateway(t, func(p *Policy) {
			p.BlockedMIMETypes = []string{"application/pdf"}
		})
		if _, err := g.IssueUpload(ctx, uploadReq(nil)); !errors.Is(err, models.ErrUnsupportedMedia) {
			t.Errorf("expected ErrUnsupportedMedia, got %v", err)
		}
	})

	t.Run("mime outside allowed prefixes", func(t *testing.T) {
		g, _, _ := newTestGateway(t, func(p *Policy) {
			p.AllowedMIMEPrefixes = []string{"image/", "video/"}
		})
		if _, err := g.IssueUpload(ctx, uploadReq(nil)); !errors.Is(err, models.ErrUnsupportedMedia) {
			t.Errorf("expected ErrUnsupportedMedia, got %v", err)
		}
	})

	t.Run("expiry not in allowed set", func(t *testing.T) {
		g, _, _ := newTestGateway(t, nil)
		req := uploadReq(nil)
		req.Expiry = 90 * time.Minute
		if _, err := g.IssueUpload(ctx, req); !errors.Is(err, models.ErrInvalidExpiry) {
			t.Errorf("expected ErrInvalidExpiry, got %v", err)
		}
	})

	t.Run("anonymous denied when disabled", func(t *testing.T) {
		g, _, _ := newTestGateway(t, func(p *Policy) { p.AllowAnonymousUploads = false })
		if _, err := g.IssueUpload(ctx, uploadReq(nil)); !errors.Is(err, models.ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("in-flight upload cap", func(t *testing.T) {
		g, s, _ := newTestGateway(t, func(p *Policy) { p.MaxInFlightUploads = 1 })
		owner := testOwner(t, s)
		if _, err := g.IssueUpload(ctx, uploadReq(owner)); err != nil {
			t.Fatalf("first upload: %v", err)
		}
		if _, err := g.IssueUpload(ctx, uploadReq(owner)); !errors.Is(err, models.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
	})

	t.Run("byte quota", func(t *testing.T) {
		g, s, _ := newTestGateway(t, func(p *Policy) { p.UserQuotaBytes = 1500 })
		owner := testOwner(t, s)
		if _, err := g.IssueUpload(ctx, uploadReq(owner)); err != nil {
			t.Fatalf("first upload: %v", err)
		}
		if _, err := g.IssueUpload(ctx, uploadReq(owner)); !errors.Is(err, models.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
	})
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, s, objects := newTestGateway(t, nil)
	owner := testOwner(t, s)

	grant, err := g.IssueUpload(ctx, uploadReq(owner))
	if err != nil {
		t.Fatalf("IssueUpload: %v", err)
	}
	if grant.ShareID == "" || grant.Upload.URL == "" {
		t.Fatal("incomplete upload grant")
	}
	if grant.Upload.Headers["Content-Length"] != "1024" {
		t.Errorf("Content-Length header = %q, want 1024", grant.Upload.Headers["Content-Length"])
	}

	// Client PUT via the presigned URL.
	objects.Put(grant.ShareID+"/report.pdf", 1024)

	share, err := g.FinalizeUpload(ctx, grant.ShareID)
	if err != nil {
		t.Fatalf("FinalizeUpload: %v", err)
	}
	if share.State != models.ShareAvailable {
		t.Errorf("state = %s, want available", share.State)
	}

	t.Run("finalize is idempotent", func(t *testing.T) {
		again, err := g.FinalizeUpload(ctx, grant.ShareID)
		if err != nil {
			t.Fatalf("second FinalizeUpload: %v", err)
		}
		if again.State != models.ShareAvailable {
			t.Errorf("repeat state = %s", again.State)
		}
	})

	dl, err := g.IssueDownload(ctx, grant.ShareID, "", "requester-hash")
	if err != nil {
		t.Fatalf("IssueDownload: %v", err)
	}
	if dl.Filename != "report.pdf" || dl.SizeBytes != 1024 {
		t.Errorf("grant = %+v", dl)
	}
	if dl.DownloadCount != 1 {
		t.Errorf("download count = %d, want exactly 1", dl.DownloadCount)
	}

	view, err := g.GetShareView(ctx, grant.ShareID)
	if err != nil {
		t.Fatalf("GetShareView: %v", err)
	}
	if view.HasPassword || view.DownloadCount != 1 {
		t.Errorf("view = %+v", view)
	}
}

func TestFinalizeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("object never uploaded", func(t *testing.T) {
		g, s, _ := newTestGateway(t, nil)
		grant, err := g.IssueUpload(ctx, uploadReq(nil))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := g.FinalizeUpload(ctx, grant.ShareID); !errors.Is(err, models.ErrUploadNotFound) {
			t.Fatalf("expected ErrUploadNotFound, got %v", err)
		}
		share, err := s.GetShare(ctx, grant.ShareID)
		if err != nil {
			t.Fatal(err)
		}
		if share.State != models.ShareDeleted {
			t.Errorf("state after failed finalize = %s, want deleted", share.State)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		g, _, objects := newTestGateway(t, nil)
		grant, err := g.IssueUpload(ctx, uploadReq(nil))
		if err != nil {
			t.Fatal(err)
		}
		objects.Put(grant.ShareID+"/report.pdf", 999)
		if _, err := g.FinalizeUpload(ctx, grant.ShareID); !errors.Is(err, models.ErrUploadNotFound) {
			t.Errorf("expected ErrUploadNotFound, got %v", err)
		}
	})

	t.Run("unknown share", func(t *testing.T) {
		g, _, _ := newTestGateway(t, nil)
		if _, err := g.FinalizeUpload(ctx, "missing"); !errors.Is(err, models.ErrShareNotFound) {
			t.Errorf("expected ErrShareNotFound, got %v", err)
		}
	})
}

func TestPasswordGate(t *testing.T) {
	ctx := context.Background()
	g, _, objects := newTestGateway(t, nil)

	req := uploadReq(nil)
	req.Password = "sesame"
	req.DownloadLimit = 1
	grant, err := g.IssueUpload(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	objects.Put(grant.ShareID+"/report.pdf", 1024)
	if _, err := g.FinalizeUpload(ctx, grant.ShareID); err != nil {
		t.Fatal(err)
	}

	if _, err := g.IssueDownload(ctx, grant.ShareID, "", "h"); !errors.Is(err, models.ErrPasswordRequired) {
		t.Errorf("no password: expected ErrPasswordRequired, got %v", err)
	}
	if _, err := g.IssueDownload(ctx, grant.ShareID, "wrong", "h"); !errors.Is(err, models.ErrPasswordIncorrect) {
		t.Errorf("wrong password: expected ErrPasswordIncorrect, got %v", err)
	}

	// Failed guesses must not consume the single allowed download.
	dl, err := g.IssueDownload(ctx, grant.ShareID, "sesame", "h")
	if err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if dl.DownloadCount != 1 {
		t.Errorf("download count = %d, want 1", dl.DownloadCount)
	}

	if _, err := g.IssueDownload(ctx, grant.ShareID, "sesame", "h"); !errors.Is(err, models.ErrShareGone) {
		t.Errorf("over limit: expected ErrShareGone, got %v", err)
	}
}

func TestDownloadExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	g, _, objects := newTestGateway(t, nil)

	grant, err := g.IssueUpload(ctx, uploadReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	objects.Put(grant.ShareID+"/report.pdf", 1024)
	if _, err := g.FinalizeUpload(ctx, grant.ShareID); err != nil {
		t.Fatal(err)
	}

	// Pin the clock exactly at expires_at; expiry is inclusive.
	g.now = func() time.Time { return grant.ExpiresAt }
	if _, err := g.IssueDownload(ctx, grant.ShareID, "", "h"); !errors.Is(err, models.ErrShareExpired) {
		t.Errorf("at expires_at: expected ErrShareExpired, got %v", err)
	}
	if _, err := g.GetShareView(ctx, grant.ShareID); !errors.Is(err, models.ErrShareExpired) {
		t.Errorf("view at expires_at: expected ErrShareExpired, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	g, s, objects := newTestGateway(t, nil)
	owner := testOwner(t, s)

	grant, err := g.IssueUpload(ctx, uploadReq(owner))
	if err != nil {
		t.Fatal(err)
	}
	key := grant.ShareID + "/report.pdf"
	objects.Put(key, 1024)
	if _, err := g.FinalizeUpload(ctx, grant.ShareID); err != nil {
		t.Fatal(err)
	}

	t.Run("non-owner forbidden", func(t *testing.T) {
		if err := g.Revoke(ctx, grant.ShareID, "someone-else"); !errors.Is(err, models.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	if err := g.Revoke(ctx, grant.ShareID, *owner); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if objects.Len() != 0 {
		t.Error("object still present after revoke")
	}
	share, err := s.GetShare(ctx, grant.ShareID)
	if err != nil {
		t.Fatal(err)
	}
	if share.State != models.ShareDeleted {
		t.Errorf("state = %s, want deleted", share.State)
	}

	t.Run("revoke is idempotent", func(t *testing.T) {
		if err := g.Revoke(ctx, grant.ShareID, *owner); err != nil {
			t.Errorf("second revoke: %v", err)
		}
	})

	t.Run("anonymous share cannot be revoked", func(t *testing.T) {
		anon, err := g.IssueUpload(ctx, uploadReq(nil))
		if err != nil {
			t.Fatal(err)
		}
		if err := g.Revoke(ctx, anon.ShareID, *owner); !errors.Is(err, models.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})
}
