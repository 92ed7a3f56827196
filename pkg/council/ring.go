package council

// DefaultRingCapacity is the vote ring size used when none is configured.
const DefaultRingCapacity = 50

// VoteRing is a fixed-capacity circular buffer of council votes.
// Once full, appending silently overwrites the oldest vote. The ring is not
// safe for concurrent use on its own; Consensus serializes access to it.
type VoteRing struct {
	votes []Vote
	next  int
	size  int
}

// NewVoteRing creates a ring with the given capacity.
// Capacities below 1 fall back to DefaultRingCapacity.
func NewVoteRing(capacity int) *VoteRing {
	if capacity < 1 {
		capacity = DefaultRingCapacity
	}
	return &VoteRing{votes: make([]Vote, capacity)}
}

// Capacity returns the fixed capacity of the ring.
func (r *VoteRing) Capacity() int {
	return len(r.votes)
}

// Len returns the number of votes currently held, never exceeding capacity.
func (r *VoteRing) Len() int {
	return r.size
}

// Append adds a vote, overwriting the oldest entry when the ring is full.
// Arrival order is preserved: Snapshot returns votes oldest first.
func (r *VoteRing) Append(v Vote) {
	r.votes[r.next] = v
	r.next = (r.next + 1) % len(r.votes)
	if r.size < len(r.votes) {
		r.size++
	}
}

// Last returns the most recently appended vote.
func (r *VoteRing) Last() (Vote, bool) {
	if r.size == 0 {
		return Vote{}, false
	}
	idx := (r.next - 1 + len(r.votes)) % len(r.votes)
	return r.votes[idx], true
}

// Recent returns up to n of the most recent votes, oldest first.
func (r *VoteRing) Recent(n int) []Vote {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Vote, 0, n)
	start := (r.next - n + len(r.votes)) % len(r.votes)
	for i := 0; i < n; i++ {
		out = append(out, r.votes[(start+i)%len(r.votes)])
	}
	return out
}

// Snapshot returns every held vote, oldest first.
func (r *VoteRing) Snapshot() []Vote {
	return r.Recent(r.size)
}
