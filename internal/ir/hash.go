package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for derived identities.
// Version suffix enables future algorithm migration.
const (
	DomainDoc  = "shoplist/doc/v1"
	DomainRoom = "shoplist/room/v1"
	DomainList = "shoplist/list/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocDigest returns a content digest of the document.
// Two documents have the same digest iff they are Equal.
func DocDigest(d Doc) (string, error) {
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("DocDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDoc, canonical), nil
}

// MustDocDigest is like DocDigest but panics on error.
// Use only in tests or when the document is known to be valid.
func MustDocDigest(d Doc) string {
	digest, err := DocDigest(d)
	if err != nil {
		panic(err)
	}
	return digest
}

// NormalizeCode trims an invite code and upper-cases it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RoomID derives the rendezvous room for an invite code.
// Any two devices holding the same code (case and surrounding space
// ignored) derive the same room.
func RoomID(inviteCode string) string {
	return hashWithDomain(DomainRoom, []byte(NormalizeCode(inviteCode)))[:32]
}

// ListIDFromInvite derives the list id shared by every replica of the list
// behind an invite code.
func ListIDFromInvite(inviteCode string) string {
	return "list-" + hashWithDomain(DomainList, []byte(NormalizeCode(inviteCode)))[:24]
}
