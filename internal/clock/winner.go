package clock

import "strings"

// Claim is one peer's bid for a task, stamped with the claimant's entry at
// the time it ticked its clock for the claim.
type Claim struct {
	PeerID string `json:"peer_id"`
	Entry  Entry  `json:"entry"`
}

// Compare orders claims so that the winner sorts first: higher counter,
// then lexicographically smaller head, then smaller peer id. It returns a
// negative number when a beats b.
func Compare(a, b Claim) int {
	switch {
	case a.Entry.Counter > b.Entry.Counter:
		return -1
	case a.Entry.Counter < b.Entry.Counter:
		return 1
	}
	// Lowercase hex preserves the byte order of the underlying digests.
	if c := strings.Compare(a.Entry.Head(), b.Entry.Head()); c != 0 {
		return c
	}
	return strings.Compare(a.PeerID, b.PeerID)
}

// Winner returns the peer id of the winning claim. Input order does not
// matter. ok is false when claims is empty.
func Winner(claims []Claim) (peerID string, ok bool) {
	if len(claims) == 0 {
		return "", false
	}
	best := claims[0]
	for _, c := range claims[1:] {
		if Compare(c, best) < 0 {
			best = c
		}
	}
	return best.PeerID, true
}

// Beats reports whether a strictly wins over b.
func Beats(a, b Claim) bool {
	return Compare(a, b) < 0
}
