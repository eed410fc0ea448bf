package arena

import "github.com/pengine/pstd/memutils"

// Pair holds two scratch arenas. Code that persists into one arena of the pair uses the other one
// for its temporary work, so a callee can be handed both without its scratch data landing in its
// caller's results.
type Pair struct {
	First  *Arena
	Second *Arena
}

// Other returns the arena of the pair that is not arena. If arena is not part of the pair, First
// is returned.
func (p *Pair) Other(arena *Arena) *Arena {
	memutils.Assert(p.First != nil && p.Second != nil, "arena pair is incomplete")

	if arena == p.First {
		return p.Second
	}
	return p.First
}
