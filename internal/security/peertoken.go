package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const peerTokenBytes = 32

// PeerTokenAuthority mints and verifies the session-scoped peer tokens that
// authorize signaling connections. Plaintext tokens are returned exactly once
// and never persisted; only the peppered digest is stored.
type PeerTokenAuthority struct {
	pepper []byte
}

func NewPeerTokenAuthority(pepper string) *PeerTokenAuthority {
	return &PeerTokenAuthority{pepper: []byte(pepper)}
}

// Issue produces a fresh 64-hex-character token and its digest.
func (a *PeerTokenAuthority) Issue() (plaintext, digest string, err error) {
	buf := make([]byte, peerTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate peer token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, a.Digest(plaintext), nil
}

// Digest returns the hex-encoded HMAC-SHA256 of the plaintext under the
// configured pepper.
func (a *PeerTokenAuthority) Digest(plaintext string) string {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the candidate plaintext matches the stored digest.
// Comparison is constant-time; failure is a plain false, never an error.
func (a *PeerTokenAuthority) Verify(candidate, storedDigest string) bool {
	if candidate == "" || storedDigest == "" {
		return false
	}
	computed := a.Digest(candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) == 1
}
