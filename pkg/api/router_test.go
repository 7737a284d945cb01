//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/gateway"
	"github.com/sharesync/sharesync/pkg/ratelimit"
	"github.com/sharesync/sharesync/pkg/signaling"
	"github.com/sharesync/sharesync/pkg/storage/memory"
	"github.com/sharesync/sharesync/pkg/store"
)

type stubVerifier struct {
	identity *auth.Identity
}

func (v *stubVerifier) Verify(ctx context.Context, credential string) (*auth.Identity, error) {
	if credential != "good-provider-token" {
		return nil, auth.ErrIdentityRejected
	}
	return v.identity, nil
}

type testEnv struct {
	server  *httptest.Server
	store   *store.GORMStore
	objects *memory.ObjectStore
}

func unlimited() ratelimit.Config {
	generous := ratelimit.Limit{Requests: 100000, Window: time.Minute}
	all := ratelimit.BucketLimits{
		AnonymousPerIP:       generous,
		AuthenticatedPerUser: generous,
		IPCeiling:            generous,
	}
	return ratelimit.Config{Upload: all, Download: all, API: all, Auth: all}
}

func newTestEnv(t *testing.T, mutate func(*RouterDeps, *gateway.Policy, *ratelimit.Config)) *testEnv {
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
	policy := gateway.Policy{AllowAnonymousUploads: true}
	policy.ApplyDefaults()

	rlCfg := unlimited()

	hubCfg := signaling.Config{}
	hubCfg.ApplyDefaults()

	sessCfg := auth.Config{Secret: strings.Repeat("s", 32)}
	sessCfg.ApplyDefaults()

	deps := RouterDeps{
		Store:    s,
		Hub:      signaling.NewHub(hubCfg),
		Sessions: auth.NewSessionService(sessCfg),
		Verifier: &stubVerifier{identity: &auth.Identity{Subject: "sub-1", Email: "alice@example.com", Name: "Alice"}},
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps, &policy, &rlCfg)
	}

	deps.Gateway = gateway.New(s, objects, policy)
	deps.Limiter = ratelimit.New(rlCfg, ratelimit.NewMemoryStore(), nil)

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: s, objects: objects}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&fields)
	}
	return resp, fields
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	resp, fields := e.do(t, http.MethodPost, "/api/v1/auth/session", "", map[string]string{
		"access_token": "good-provider-token",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var token string
	if err := json.Unmarshal(fields["token"], &token); err != nil {
		t.Fatalf("token missing in login response: %v", err)
	}
	return token
}

func errorCode(t *testing.T, fields map[string]json.RawMessage) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(fields["error"], &body); err != nil {
		t.Fatalf("response has no error envelope: %v", err)
	}
	return body.Code
}

// simulateUpload stands in for the client PUT against the presigned URL.
func (e *testEnv) simulateUpload(uploadURL string, size int64) {
	key := strings.TrimPrefix(uploadURL, "memory://put/")
	e.objects.Put(key, size)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, fields := env.do(t, http.MethodPost, "/api/v1/auth/session", "", map[string]string{
		"access_token": "good-provider-token",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var cookieSet bool
	for _, c := range resp.Cookies() {
		if c.Name == "sharesync_session" {
			cookieSet = true
			if !c.HttpOnly {
				t.Error("session cookie should be HttpOnly")
			}
		}
	}
	if !cookieSet {
		t.Error("login did not set the session cookie")
	}

	var token string
	if err := json.Unmarshal(fields["token"], &token); err != nil || token == "" {
		t.Fatalf("login response has no token: %v", err)
	}

	resp, fields = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200", resp.StatusCode)
	}
	var email string
	_ = json.Unmarshal(fields["email"], &email)
	if email != "alice@example.com" {
		t.Errorf("me email = %q, want alice@example.com", email)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/auth/session", "", map[string]string{
		"access_token": "stolen-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("rejected credential status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "unauthenticated" {
		t.Errorf("error code = %q, want unauthenticated", code)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/auth/session", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous me status = %d, want 401", resp.StatusCode)
	}
}

func TestAnonymousShareFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, fields := env.do(t, http.MethodPost, "/api/v1/upload/presign", "", map[string]any{
		"filename":       "notes.txt",
		"size_bytes":     2048,
		"mime_type":      "text/plain",
		"expiry_seconds": 3600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("presign status = %d, want 201", resp.StatusCode)
	}
	var shareID string
	if err := json.Unmarshal(fields["share_id"], &shareID); err != nil || shareID == "" {
		t.Fatalf("presign response has no share_id: %v", err)
	}
	var upload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(fields["upload"], &upload); err != nil {
		t.Fatalf("presign response has no upload grant: %v", err)
	}

	// Metadata is public before finalize but reports the pending state.
	resp, fields = env.do(t, http.MethodGet, "/api/v1/share/"+shareID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("share metadata status = %d, want 200", resp.StatusCode)
	}

	env.simulateUpload(upload.URL, 2048)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/upload/finalize", "", map[string]string{
		"share_id": shareID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status = %d, want 200", resp.StatusCode)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/share/"+shareID+"/download", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", resp.StatusCode)
	}
	var downloadURL, filename string
	_ = json.Unmarshal(fields["download_url"], &downloadURL)
	_ = json.Unmarshal(fields["filename"], &filename)
	if downloadURL == "" {
		t.Error("download response has no download_url")
	}
	if filename != "notes.txt" {
		t.Errorf("filename = %q, want notes.txt", filename)
	}
	var count int
	_ = json.Unmarshal(fields["download_count"], &count)
	if count != 1 {
		t.Errorf("download_count = %d, want 1", count)
	}
}

func TestOwnerShareManagement(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	resp, fields := env.do(t, http.MethodPost, "/api/v1/upload/presign", token, map[string]any{
		"filename":       "secret.pdf",
		"size_bytes":     1024,
		"mime_type":      "application/pdf",
		"expiry_seconds": 3600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("presign status = %d, want 201", resp.StatusCode)
	}
	var shareID string
	_ = json.Unmarshal(fields["share_id"], &shareID)
	var upload struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(fields["upload"], &upload)

	env.simulateUpload(upload.URL, 1024)
	resp, _ = env.do(t, http.MethodPost, "/api/v1/upload/finalize", token, map[string]string{"share_id": shareID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status = %d, want 200", resp.StatusCode)
	}

	resp, fields = env.do(t, http.MethodGet, "/api/v1/files", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var shares []json.RawMessage
	if err := json.Unmarshal(fields["shares"], &shares); err != nil || len(shares) != 1 {
		t.Fatalf("list returned %d shares, want 1 (%v)", len(shares), err)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/files/"+shareID+"/password", token, map[string]string{
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set password status = %d, want 204", resp.StatusCode)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/share/"+shareID+"/download", "", nil)
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("passwordless download status = %d, want 423", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "password_required" {
		t.Errorf("error code = %q, want password_required", code)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/share/"+shareID+"/download", "", map[string]string{
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("wrong password status = %d, want 423", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "password_incorrect" {
		t.Errorf("error code = %q, want password_incorrect", code)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/share/"+shareID+"/download", "", map[string]string{
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("correct password status = %d, want 200", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/files/"+shareID, token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", resp.StatusCode)
	}

	resp, fields = env.do(t, http.MethodGet, "/api/v1/share/"+shareID, "", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("revoked metadata status = %d, want 410", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "gone" {
		t.Errorf("error code = %q, want gone", code)
	}
}

func TestOwnerRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/files"},
		{http.MethodDelete, "/api/v1/files/abc"},
		{http.MethodGet, "/api/v1/auth/me"},
	} {
		resp, fields := env.do(t, tc.method, tc.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, resp.StatusCode)
			continue
		}
		if code := errorCode(t, fields); code != "unauthenticated" {
			t.Errorf("%s %s error code = %q, want unauthenticated", tc.method, tc.path, code)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, fields := env.do(t, http.MethodGet, "/api/v1/share/does-not-exist", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown share status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "not_found" {
		t.Errorf("error code = %q, want not_found", code)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/upload/presign", "", map[string]any{
		"filename":       "big.bin",
		"size_bytes":     int64(3) << 30,
		"mime_type":      "application/octet-stream",
		"expiry_seconds": 3600,
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize status = %d, want 413", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "oversize" {
		t.Errorf("error code = %q, want oversize", code)
	}

	resp, fields = env.do(t, http.MethodPost, "/api/v1/upload/presign", "", map[string]any{
		"filename":       "notes.txt",
		"size_bytes":     100,
		"mime_type":      "text/plain",
		"expiry_seconds": 12345,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad expiry status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "validation_failed" {
		t.Errorf("error code = %q, want validation_failed", code)
	}
}

func TestRateLimitedBucket(t *testing.T) {
	env := newTestEnv(t, func(deps *RouterDeps, policy *gateway.Policy, rl *ratelimit.Config) {
		rl.API.AnonymousPerIP = ratelimit.Limit{Requests: 3, Window: time.Minute}
	})

	var last *http.Response
	var fields map[string]json.RawMessage
	for i := 0; i < 4; i++ {
		last, fields = env.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("4th request status = %d, want 429", last.StatusCode)
	}
	if code := errorCode(t, fields); code != "rate_limited" {
		t.Errorf("error code = %q, want rate_limited", code)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("429 response is missing Retry-After")
	}
}

func TestP2PRoomRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, fields := env.do(t, http.MethodGet, "/api/v1/p2p/room", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create room status = %d, want 200", resp.StatusCode)
	}
	var roomID string
	if err := json.Unmarshal(fields["room_id"], &roomID); err != nil || len(roomID) != 8 {
		t.Fatalf("room_id = %q, want 8 hex chars", roomID)
	}

	// The room does not exist in the hub until a peer joins it.
	resp, fields = env.do(t, http.MethodGet, "/api/v1/p2p/room/"+roomID, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty room status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, fields); code != "not_found" {
		t.Errorf("error code = %q, want not_found", code)
	}
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, fields := env.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
		var status string
		_ = json.Unmarshal(fields["status"], &status)
		if status != "healthy" {
			t.Errorf("%s status field = %q, want healthy", path, status)
		}
	}

	resp, fields := env.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	for _, field := range []string{"total_users", "total_shares", "total_downloads"} {
		if _, ok := fields[field]; !ok {
			t.Errorf("stats response is missing %s", field)
		}
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
}
