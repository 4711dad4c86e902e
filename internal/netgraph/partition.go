package netgraph

import (
	"go.uber.org/zap"

	"p2p-simnet/internal/identity"
)

// AddPartition removes both directions of every link between a node of
// groupA and a node of groupB. Links inside a group are left alone and pairs
// without a link are skipped. It returns the number of directed links removed.
func (g *Graph) AddPartition(groupA, groupB []identity.NodeID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for _, a := range groupA {
		for _, b := range groupB {
			if a == b {
				continue
			}
			if g.removeLinkLocked(a, b) {
				removed++
			}
			if g.removeLinkLocked(b, a) {
				removed++
			}
		}
	}
	g.log.Info("partition added",
		zap.Int("group_a", len(groupA)),
		zap.Int("group_b", len(groupB)),
		zap.Int("links_removed", removed))
	return removed
}

// HealPartition installs link in both directions between every node of
// groupA and every node of groupB. Pairs where either node is unknown to the
// graph are skipped. It returns the number of node pairs linked.
func (g *Graph) HealPartition(groupA, groupB []identity.NodeID, link LinkInfo) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	healed := 0
	for _, a := range groupA {
		if _, ok := g.NodeLocked(a); !ok {
			continue
		}
		for _, b := range groupB {
			if a == b {
				continue
			}
			if _, ok := g.NodeLocked(b); !ok {
				continue
			}
			g.connectLocked(a, b, link)
			healed++
		}
	}
	g.log.Info("partition healed",
		zap.Int("group_a", len(groupA)),
		zap.Int("group_b", len(groupB)),
		zap.Int("pairs_linked", healed),
		zap.Duration("latency", link.Latency))
	return healed
}
