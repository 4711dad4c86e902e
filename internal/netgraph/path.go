package netgraph

import "p2p-simnet/internal/identity"

// FindPath returns a shortest hop path from -> to over active links, or
// false when to is unreachable. Only a read lock is taken.
func (g *Graph) FindPath(from, to identity.NodeID) ([]identity.NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.FindPathLocked(from, to)
}

// FindPathLocked is a breadth-first search. Neighbours are expanded in link
// order (ascending destination id), so among equal-length paths the same one
// is returned for the same graph state.
func (g *Graph) FindPathLocked(from, to identity.NodeID) ([]identity.NodeID, bool) {
	if from == to {
		return []identity.NodeID{from}, true
	}

	prev := map[identity.NodeID]identity.NodeID{from: from}
	frontier := []identity.NodeID{from}
	found := false

	for len(frontier) > 0 && !found {
		cur := frontier[0]
		frontier = frontier[1:]

		g.eachNeighborLocked(cur, func(next identity.NodeID, link LinkInfo) bool {
			if !link.Active {
				return true
			}
			if _, seen := prev[next]; seen {
				return true
			}
			prev[next] = cur
			if next == to {
				found = true
				return false
			}
			frontier = append(frontier, next)
			return true
		})
	}
	if !found {
		return nil, false
	}

	var rev []identity.NodeID
	for at := to; at != from; at = prev[at] {
		rev = append(rev, at)
	}
	rev = append(rev, from)

	path := make([]identity.NodeID, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path, true
}

// Reachable reports whether FindPath would succeed.
func (g *Graph) Reachable(from, to identity.NodeID) bool {
	_, ok := g.FindPath(from, to)
	return ok
}
