package transport

import (
	"sort"
	"sync"
	"time"
)

// PeerSet tracks room members and the last time each was heard from.
//
// Thread-safety: PeerSet is safe for concurrent use via internal mutex.
type PeerSet struct {
	mu    sync.Mutex
	peers map[string]time.Time
}

// NewPeerSet creates an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]time.Time)}
}

// Touch records that peer was heard from at now.
// Returns true when the peer was not known before.
func (s *PeerSet) Touch(peer string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.peers[peer]
	s.peers[peer] = now
	return !known
}

// Remove forgets peer. Returns true when it was known.
func (s *PeerSet) Remove(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.peers[peer]
	delete(s.peers, peer)
	return known
}

// Expire forgets every peer not heard from since cutoff and returns them.
func (s *PeerSet) Expire(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var gone []string
	for peer, seen := range s.peers {
		if seen.Before(cutoff) {
			gone = append(gone, peer)
			delete(s.peers, peer)
		}
	}
	sort.Strings(gone)
	return gone
}

// List returns the known peers in sorted order.
func (s *PeerSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for peer := range s.peers {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of known peers.
func (s *PeerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
