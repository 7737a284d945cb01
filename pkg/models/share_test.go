package models

import (
	"testing"
	"time"
)

func TestShareStateTransitions(t *testing.T) {
	cases := []struct {
		from, to ShareState
		allowed  bool
	}{
		{SharePendingUpload, ShareAvailable, true},
		{SharePendingUpload, ShareExpired, true},
		{SharePendingUpload, ShareDeleted, true},
		{ShareAvailable, ShareExpired, true},
		{ShareAvailable, ShareDeleted, true},
		{ShareExpired, ShareDeleted, true},
		{ShareAvailable, SharePendingUpload, false},
		{ShareExpired, ShareAvailable, false},
		{ShareDeleted, ShareAvailable, false},
		{ShareDeleted, ShareExpired, false},
		{ShareDeleted, ShareDeleted, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestShareIsExpired(t *testing.T) {
	now := time.Now()
	s := &Share{ExpiresAt: now}

	if s.IsExpired(now.Add(-time.Second)) {
		t.Error("share expired before ExpiresAt")
	}
	// Boundary: a request arriving exactly at ExpiresAt is rejected.
	if !s.IsExpired(now) {
		t.Error("share not expired at ExpiresAt")
	}
	if !s.IsExpired(now.Add(time.Second)) {
		t.Error("share not expired after ExpiresAt")
	}
}

func TestShareLimitReached(t *testing.T) {
	s := &Share{DownloadLimit: 0, DownloadCount: 1000}
	if s.LimitReached() {
		t.Error("zero limit must mean unlimited")
	}

	s = &Share{DownloadLimit: 3, DownloadCount: 2}
	if s.LimitReached() {
		t.Error("limit reached before count met it")
	}
	s.DownloadCount = 3
	if !s.LimitReached() {
		t.Error("limit not reached at count == limit")
	}
}

func TestShareValidate(t *testing.T) {
	now := time.Now()
	valid := Share{
		ID:           "abc",
		StorageKey:   "abc/report.pdf",
		OriginalName: "report.pdf",
		SizeBytes:    1024,
		MimeType:     "application/pdf",
		State:        SharePendingUpload,
		CreatedAt:    now,
		ExpiresAt:    now.Add(2 * time.Hour),
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("valid share failed validation: %v", err)
	}

	t.Run("expiry must be after creation", func(t *testing.T) {
		s := valid
		s.ExpiresAt = s.CreatedAt
		if err := s.Validate(); err == nil {
			t.Error("expected error for expires_at == created_at")
		}
	})

	t.Run("negative size rejected", func(t *testing.T) {
		s := valid
		s.SizeBytes = -1
		if err := s.Validate(); err == nil {
			t.Error("expected error for negative size")
		}
	})

	t.Run("unknown state rejected", func(t *testing.T) {
		s := valid
		s.State = "uploading"
		if err := s.Validate(); err == nil {
			t.Error("expected error for unknown state")
		}
	})
}
