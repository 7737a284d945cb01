package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode"
)

// maxFilenameLen bounds the sanitized filename inside a storage key.
const maxFilenameLen = 128

// NewShareID returns a URL-safe identifier with 144 bits of entropy.
func NewShareID() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; there is no
		// reasonable degraded mode for identifier generation.
		panic("gateway: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// SanitizeFilename reduces a client-supplied filename to a safe charset for
// use inside a storage key. Path separators are stripped, anything outside
// [A-Za-z0-9._-] becomes an underscore, and the result is length-bounded.
// A name that sanitizes to nothing gets a generated fallback.
func SanitizeFilename(name string) string {
	// Drop any directory components, whichever separator convention the
	// client used.
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	// A bare dot-file or all-underscore result carries no information.
	if strings.Trim(out, "._") == "" {
		out = "file_" + randomSuffix()
	}
	if len(out) > maxFilenameLen {
		// Keep the extension when truncating so content-type sniffing
		// downstream still works.
		if dot := strings.LastIndexByte(out, '.'); dot > 0 && len(out)-dot <= 16 {
			ext := out[dot:]
			out = out[:maxFilenameLen-len(ext)] + ext
		} else {
			out = out[:maxFilenameLen]
		}
	}
	return out
}

// StorageKey derives the deterministic object key for a share. The key,
// not the filename, is the sole source of truth for object identity.
func StorageKey(shareID, originalName string) string {
	return shareID + "/" + SanitizeFilename(originalName)
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic("gateway: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
