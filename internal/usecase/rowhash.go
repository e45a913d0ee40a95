package usecase

import (
	"crypto/sha256"
	"encoding/hex"

	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// CanonicalRowJSON serializes a row field map to JSON. encoding/json writes
// map keys in sorted order, so two files carrying the same logical row in
// different column orders serialize identically and idempotence holds across
// re-exports of the same data.
func CanonicalRowJSON(record map[string]string) []byte {
	return utils.MustMarshalJSON(record)
}

// RowHash returns the hex-encoded SHA-256 digest of the canonical row form.
func RowHash(record map[string]string) string {
	sum := sha256.Sum256(CanonicalRowJSON(record))
	return hex.EncodeToString(sum[:])
}
