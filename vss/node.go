package vss

import "time"

// NodeType mirrors spec.md §3: interior nodes are "branch"; leaves are
// one of "sensor", "actuator", "attribute".
type NodeType string

const (
	NodeTypeBranch    NodeType = "branch"
	NodeTypeSensor    NodeType = "sensor"
	NodeTypeActuator  NodeType = "actuator"
	NodeTypeAttribute NodeType = "attribute"
)

func (t NodeType) isLeafType() bool {
	return t == NodeTypeSensor || t == NodeTypeActuator || t == NodeTypeAttribute
}

// node is one entry of the tree. Branch fields (Children) and leaf fields
// (Datatype, Value, ...) are mutually exclusive by NodeType, following the
// single nested-map representation the design notes call out as sufficient
// (no parent pointers, no arena indirection needed at this scale).
type node struct {
	name        string
	description string
	nodeType    NodeType
	uuid        string

	// leaf-only
	datatype  Datatype
	unit      string
	min       *Value
	max       *Value
	enum      []string
	value     Value
	hasValue  bool
	timestamp time.Time

	// branch-only
	children map[string]*node
}

func (n *node) isLeaf() bool {
	return n.nodeType.isLeafType()
}

// sortedChildNames returns child names in deterministic alphabetical
// order, per spec.md §4.2's depth-first, alphabetical-by-level traversal
// requirement for getLeafPaths.
func (n *node) sortedChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}
