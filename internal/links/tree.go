package links

import (
	"fmt"

	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// Direction selects which edges a tree traversal follows.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// ParseDirection validates a direction name; "" means Outgoing.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Outgoing:
		return Outgoing, nil
	case Incoming, Both:
		return Direction(s), nil
	}
	return "", fmt.Errorf("links: unknown direction %q", s)
}

// FilterByTree collects the records reachable from root over the given
// categories, mapped to their distance from root. Traversal is breadth
// first; the first depth a record is reached at is kept, so cycles
// terminate. maxDepth nil means unbounded. An unknown root yields an empty
// map.
func FilterByTree(v store.View, root string, categories []string, dir Direction, maxDepth *int) map[string]int {
	out := map[string]int{}
	if _, ok := v.Get(root); !ok {
		return out
	}
	out[root] = 0
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		d := out[id]
		if maxDepth != nil && d >= *maxDepth {
			continue
		}
		n, _ := v.Get(id)
		for _, next := range neighbours(n, categories, dir) {
			if _, seen := out[next]; seen {
				continue
			}
			if _, ok := v.Get(next); !ok {
				continue
			}
			out[next] = d + 1
			queue = append(queue, next)
		}
	}
	return out
}

func neighbours(n *need.Need, categories []string, dir Direction) []string {
	var ids []string
	for _, cat := range categories {
		if dir == Outgoing || dir == Both {
			for _, ref := range n.Links[cat] {
				id, _ := need.SplitID(ref)
				ids = append(ids, id)
			}
		}
		if dir == Incoming || dir == Both {
			ids = append(ids, n.Back[cat]...)
		}
	}
	return ids
}

// Node is a graph vertex.
type Node struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`
}

// Edge is a resolved outgoing link.
type Edge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Category string `json:"category"`
}

// Graph flattens the store into nodes and the edges of categories whose
// target exists. Order follows the store.
func Graph(v store.View, categories []string) ([]Node, []Edge) {
	values := v.Values()
	nodes := make([]Node, 0, len(values))
	var edges []Edge
	for _, n := range values {
		nodes = append(nodes, Node{ID: n.ID, Title: n.Title, Type: n.Type, Status: n.StatusValue()})
		for _, cat := range categories {
			for _, ref := range n.Links[cat] {
				id, _ := need.SplitID(ref)
				if _, ok := v.Get(id); !ok {
					continue
				}
				edges = append(edges, Edge{Source: n.ID, Target: id, Category: cat})
			}
		}
	}
	return nodes, edges
}
