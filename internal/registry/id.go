package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idPrefix      = "sheet_"
	shortIDLength = 12
	crockfordBase = "0123456789abcdefghjkmnpqrstvwxyz"
)

// newSheetID returns "sheet_" followed by 12 lowercase Crockford base32
// characters drawn from the random bits of a UUIDv7.
func newSheetID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}

	return idPrefix + shortIDFromUUIDBits(id), nil
}

func shortIDFromUUIDBits(id uuid.UUID) string {
	// UUIDv7 layout (RFC 9562): 48-bit time, 4-bit version, 12-bit rand_a,
	// 2-bit variant, 62-bit rand_b. The high 60 random bits are used.
	randA := (uint16(id[6]&0x0f) << 8) | uint16(id[7])
	randB := (uint64(id[8]&0x3f) << 56) |
		(uint64(id[9]) << 48) |
		(uint64(id[10]) << 40) |
		(uint64(id[11]) << 32) |
		(uint64(id[12]) << 24) |
		(uint64(id[13]) << 16) |
		(uint64(id[14]) << 8) |
		uint64(id[15])

	value := (uint64(randA) << 48) | (randB >> 14)

	var buf [shortIDLength]byte
	for i := shortIDLength - 1; i >= 0; i-- {
		buf[i] = crockfordBase[value&0x1f]
		value >>= 5
	}

	return string(buf[:])
}

var unsafeRunes = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// SafeName maps a display name to a file name stem. Every character
// outside [A-Za-z0-9_.-] becomes "_".
func SafeName(name string) string {
	return unsafeRunes.ReplaceAllString(strings.TrimSpace(name), "_")
}

const collisionLayout = "20060102_150405"

// candidateStems yields file name stems for base: the base itself, then base
// with a timestamp suffix, then with a counter.
func candidateStems(base string, now time.Time) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		if !yield(base) {
			return
		}

		stamped := base + "_" + now.Format(collisionLayout)
		if !yield(stamped) {
			return
		}

		for n := 2; ; n++ {
			if !yield(fmt.Sprintf("%s_%d", stamped, n)) {
				return
			}
		}
	}
}
