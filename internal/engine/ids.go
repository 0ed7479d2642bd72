package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/shoplist/internal/ir"
)

// IDGenerator generates item, operation and actor ids.
// Implemented by UUIDGenerator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-sortable UUIDv7 ids.
//
// Ids only need to be practically unique: a collision makes one write shadow
// another under last-writer-wins, which the next edit corrects. When the UUID
// source fails, Generate falls back to "<unix-ms>-<base36 random>".
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUIDv7 string.
func (UUIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fallbackID()
	}
	return id.String()
}

func fallbackID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("op-1", "op-2")
//	gen.Generate() // "op-1"
//	gen.Generate() // "op-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, so a test that generates more ids
// than it planned for fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// LocalIDPrefix marks ids minted on a device that the remote backend has
// not assigned yet.
const LocalIDPrefix = "local-"

// NewLocalID returns a device-local item id ("local-<uuid>").
func NewLocalID(gen IDGenerator) string {
	return LocalIDPrefix + gen.Generate()
}

// IsLocalID reports whether id was minted by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// inviteGroups is the number of "-"-separated groups in an invite code.
const inviteGroups = 3

// NewInviteCode returns a fresh invite code such as "1K3Z-9QWE-0ABC".
//
// Each group is a crypto-random uint32 in upper-case base 36, cut to its
// first four characters. The code is both the access credential and the
// input to ir.RoomID/ir.ListIDFromInvite; there is no revocation.
func NewInviteCode() (string, error) {
	var buf [4 * inviteGroups]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	groups := make([]string, inviteGroups)
	for i := range groups {
		v := binary.BigEndian.Uint32(buf[i*4 : i*4+4])
		s := strings.ToUpper(strconv.FormatUint(uint64(v), 36))
		if len(s) > 4 {
			s = s[:4]
		}
		groups[i] = s
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeInviteCode trims and upper-cases a user-entered code.
// Returns ErrEmptyInviteCode when nothing is left.
func NormalizeInviteCode(code string) (string, error) {
	normalized := ir.NormalizeCode(code)
	if normalized == "" {
		return "", ErrEmptyInviteCode
	}
	return normalized, nil
}

// InviteLink appends the join query parameter to baseURL.
func InviteLink(baseURL, code string) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "join=" + ir.NormalizeCode(code)
}
