package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with old hashes.
const (
	DomainDocument = "recordsdb/document/v1"
	DomainRequest  = "recordsdb/request/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of a document in its canonical form.
// Two documents that are Equal except for Int/Float representation of the
// same integral number hash identically.
func Hash(obj Object) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// HashBytes hashes already-canonical bytes under the given domain.
func HashBytes(domain string, canonical []byte) string {
	return hashWithDomain(domain, canonical)
}
