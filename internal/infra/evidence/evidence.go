// Package evidence stores and fetches request/response payload blobs by
// content address. A locator is either self-certifying
// (evidence:sha256/<digest>, empty content hash) or an external URI paired
// with an explicit content hash.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const Scheme = "evidence:sha256/"

type Gateway interface {
	Store(ctx context.Context, payload []byte) (uri string, contentHash string, err error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Digest returns the hex sha256 of payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// AddressedDigest extracts the digest of a self-certifying locator, or ""
// when the uri is not content-addressed.
func AddressedDigest(uri string) string {
	if !strings.HasPrefix(uri, Scheme) {
		return ""
	}
	return strings.TrimPrefix(uri, Scheme)
}

// Verify checks payload against a locator and optional content hash. For a
// content-addressed locator the digest embedded in the uri is
// authoritative; otherwise the explicit hash is used when present.
func Verify(uri, contentHash string, payload []byte) error {
	want := AddressedDigest(uri)
	if want == "" {
		want = contentHash
	}
	if want == "" {
		return nil
	}
	if got := Digest(payload); got != want {
		return fmt.Errorf("evidence content mismatch for %s: got %s", uri, got)
	}
	return nil
}
