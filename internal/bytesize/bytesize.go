// Package bytesize parses the human-readable byte counts accepted in
// configuration files, like "500Mi" or "2GB". Decimal suffixes scale by
// powers of 1000, binary suffixes (Ki, Mi, ...) by powers of 1024.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	KB Size = 1000
	MB      = 1000 * KB
	GB      = 1000 * MB
	TB      = 1000 * GB

	KiB Size = 1024
	MiB      = 1024 * KiB
	GiB      = 1024 * MiB
	TiB      = 1024 * GiB
)

var suffixes = map[string]Size{
	"":  1,
	"b": 1,

	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,

	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// Parse converts a byte count string to a Size. The input is a
// non-negative number followed by an optional unit suffix: "4096",
// "10MB", "1.5Gi". Suffixes are case-insensitive; no suffix or a bare
// "B" means bytes.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)

	i := 0
	for i < len(trimmed) && (trimmed[i] >= '0' && trimmed[i] <= '9' || trimmed[i] == '.') {
		i++
	}
	num := trimmed[:i]
	unit := strings.ToLower(strings.TrimSpace(trimmed[i:]))

	if num == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	mult, ok := suffixes[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", unit, s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		return Size(f * float64(mult)), nil
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return Size(n) * mult, nil
}
