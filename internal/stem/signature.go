package stem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Contract captures the audio/format parameters a fragment is produced
// under. Any change in these fields invalidates every cached stem.
type Contract struct {
	ModelID        string
	Container      string
	Encoding       string
	SampleRate     int
	BitDepth       int
	Channels       int
	BackendVersion string
}

func norm(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Signature computes the deterministic digest binding a stem to this
// contract. Stored per cache entry; a mismatch means "stale".
func (c Contract) Signature() string {
	parts := []string{
		norm(c.ModelID),
		norm(c.Container),
		norm(c.Encoding),
		fmt.Sprintf("%d", c.SampleRate),
		fmt.Sprintf("%d", c.BitDepth),
		fmt.Sprintf("%d", c.Channels),
		norm(c.BackendVersion),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
