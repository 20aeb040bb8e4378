package summary

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// refAlphabet is the 36-symbol base for the reference suffix.
const refAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReferenceNumber derives the human-facing case reference
// SUM-YYYYMMDD-XXXXX. The five-symbol suffix comes from the summary id's
// leading hex digits mapped into the 36-symbol alphabet and left-padded
// with '0', so the same id on the same day always yields the same
// reference.
func ReferenceNumber(summaryID string, on time.Time) string {
	compact := strings.ReplaceAll(summaryID, "-", "")
	if len(compact) > 12 {
		compact = compact[:12]
	}

	n, err := strconv.ParseUint(compact, 16, 64)
	if err != nil {
		// Non-hex ids still get a stable suffix.
		h := fnv.New64a()
		h.Write([]byte(summaryID))
		n = h.Sum64()
	}

	suffix := []byte("00000")
	for i := len(suffix) - 1; i >= 0 && n > 0; i-- {
		suffix[i] = refAlphabet[n%uint64(len(refAlphabet))]
		n /= uint64(len(refAlphabet))
	}

	return fmt.Sprintf("SUM-%s-%s", on.UTC().Format("20060102"), suffix)
}
