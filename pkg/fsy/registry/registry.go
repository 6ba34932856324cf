// Package registry implements the target registry: an immutable, read-only
// view over the configured target groups and node directory, built once at
// startup from the configuration loader's output.
package registry

import "fmt"

// Mode is a target's replication direction, relative to the group's local
// owner.
type Mode int

const (
	Push Mode = iota
	Pull
	PushPull
)

// Side selects which direction a registry lookup cares about.
type Side int

const (
	SidePush Side = iota
	SidePull
)

func (m Mode) matches(side Side) bool {
	switch side {
	case SidePush:
		return m == Push || m == PushPull
	case SidePull:
		return m == Pull || m == PushPull
	default:
		return false
	}
}

// NodeData is a peer node: a user-friendly name unique within the
// configuration, and the transport's stable node id.
type NodeData struct {
	Name string
	ID   string
}

// Target relates a TargetGroup to one peer, in one direction.
type Target struct {
	Mode     Mode
	NodeName string
}

// TargetGroup is a named local path plus its peer relationships.
type TargetGroup struct {
	Name    string
	Path    string
	Targets []Target
}

func (g TargetGroup) hasSide(side Side) bool {
	for _, t := range g.Targets {
		if t.Mode.matches(side) {
			return true
		}
	}
	return false
}

// Registry is the immutable, constructed-once lookup layer over a node
// directory and target-group list.
type Registry struct {
	groups []TargetGroup
	nodes  []NodeData
}

// New builds a Registry from the configuration's immutable groups and
// nodes. Callers that load groups/nodes from an untrusted source (a
// configuration file) should run Validate first; New itself does not check
// uniqueness or target resolution.
func New(groups []TargetGroup, nodes []NodeData) *Registry {
	return &Registry{groups: groups, nodes: nodes}
}

// Validate checks the structural invariants a configuration must satisfy
// before a Registry is built from it: group names and paths unique across
// groups, every group with at least one target, and every target's
// node_name resolving to exactly one NodeData. It returns the first
// violation found.
func Validate(groups []TargetGroup, nodes []NodeData) error {
	nodeNames := make(map[string]int, len(nodes))
	for _, n := range nodes {
		nodeNames[n.Name]++
	}
	for name, count := range nodeNames {
		if count > 1 {
			return fmt.Errorf("node name %q is not unique across nodes", name)
		}
	}

	seenName := make(map[string]bool, len(groups))
	seenPath := make(map[string]bool, len(groups))
	for _, g := range groups {
		if seenName[g.Name] {
			return fmt.Errorf("target group name %q is not unique across groups", g.Name)
		}
		seenName[g.Name] = true

		if seenPath[g.Path] {
			return fmt.Errorf("target group path %q is not unique across groups", g.Path)
		}
		seenPath[g.Path] = true

		if len(g.Targets) == 0 {
			return fmt.Errorf("target group %q has no targets", g.Name)
		}

		for _, t := range g.Targets {
			if nodeNames[t.NodeName] == 0 {
				return fmt.Errorf("target group %q: node_name %q does not resolve to a configured node", g.Name, t.NodeName)
			}
		}
	}

	return nil
}

// PushGroups returns every group with at least one Push or PushPull target.
func (r *Registry) PushGroups() []TargetGroup {
	return r.groupsBySide(SidePush)
}

// PullGroups returns every group with at least one Pull or PushPull target.
func (r *Registry) PullGroups() []TargetGroup {
	return r.groupsBySide(SidePull)
}

func (r *Registry) groupsBySide(side Side) []TargetGroup {
	var out []TargetGroup
	for _, g := range r.groups {
		if g.hasSide(side) {
			out = append(out, g)
		}
	}
	return out
}

// GroupByName returns the group named name if it participates on side.
func (r *Registry) GroupByName(name string, side Side) (TargetGroup, bool) {
	for _, g := range r.groups {
		if g.Name == name && g.hasSide(side) {
			return g, true
		}
	}
	return TargetGroup{}, false
}

// GroupsForPath returns every group whose Path equals basePath on side.
func (r *Registry) GroupsForPath(basePath string, side Side) []TargetGroup {
	var out []TargetGroup
	for _, g := range r.groups {
		if g.Path == basePath && g.hasSide(side) {
			out = append(out, g)
		}
	}
	return out
}

// TargetNodeIDs maps group's node names through the node directory,
// restricted to targets matching side.
func (r *Registry) TargetNodeIDs(group TargetGroup, side Side) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, t := range group.Targets {
		if !t.Mode.matches(side) {
			continue
		}
		if node, ok := r.nodeByName(t.NodeName); ok {
			ids[node.ID] = struct{}{}
		}
	}
	return ids
}

// GroupContainsNode reports whether nodeID is an authorized peer of group,
// regardless of direction.
func (r *Registry) GroupContainsNode(group TargetGroup, nodeID string) bool {
	for _, t := range group.Targets {
		if node, ok := r.nodeByName(t.NodeName); ok && node.ID == nodeID {
			return true
		}
	}
	return false
}

func (r *Registry) nodeByName(name string) (NodeData, bool) {
	for _, n := range r.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeData{}, false
}
