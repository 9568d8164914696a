package vss

import (
	"encoding/json"
)

// nodeMetadata renders n (and, for branches, its descendants) stripped of
// value/timestamp, per spec.md §4.2's get_metadata contract.
func nodeMetadata(n *node) map[string]any {
	m := map[string]any{
		"type": string(n.nodeType),
		"uuid": n.uuid,
	}
	if n.description != "" {
		m["description"] = n.description
	}
	if n.isLeaf() {
		m["datatype"] = string(n.datatype)
		if n.unit != "" {
			m["unit"] = n.unit
		}
		if n.min != nil {
			m["min"] = *n.min
		}
		if n.max != nil {
			m["max"] = *n.max
		}
		if len(n.enum) > 0 {
			m["enum"] = n.enum
		}
		return m
	}
	children := map[string]any{}
	for _, name := range n.sortedChildNames() {
		children[name] = nodeMetadata(n.children[name])
	}
	m["children"] = children
	return m
}

// GetMetadata implements spec.md §4.2's get_metadata. A single match
// returns that node's metadata object; multiple matches (a wildcard
// resolving to several siblings) return a name->metadata map, mirroring
// the branch-get shape used elsewhere for multi-match responses.
func (self *SignalTree) GetMetadata(p Path) (any, error) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	matches := resolveFrom(self.root, p.Tokens())
	if len(matches) == 0 {
		return nil, newError(KindPathNotFound, "%s", p.String())
	}
	if len(matches) == 1 && !p.IsWildcard() {
		return nodeMetadata(matches[0]), nil
	}
	out := map[string]any{}
	for _, m := range matches {
		out[m.name] = nodeMetadata(m)
	}
	return out, nil
}

// metadataPatch is the shape accepted by UpdateMetadata: any subset of the
// mutable descriptive fields. Value/timestamp are deliberately absent —
// those are mutated only by SetSignal.
type metadataPatch struct {
	Description *string          `json:"description,omitempty"`
	Unit        *string          `json:"unit,omitempty"`
	Enum        []string         `json:"enum,omitempty"`
	Min         *json.RawMessage `json:"min,omitempty"`
	Max         *json.RawMessage `json:"max,omitempty"`
}

// UpdateMetadata implements spec.md §4.2's update_metadata: merges patch
// into the matched node's metadata. Requires channel.ModifyTree.
func (self *SignalTree) UpdateMetadata(channel *Channel, p Path, patchBytes []byte) error {
	if !channel.ModifyTree {
		return newError(KindNoPermission, "channel may not modify tree metadata")
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	matches := resolveFrom(self.root, p.Tokens())
	if len(matches) != 1 {
		return newError(KindPathNotValid, "%s", p.String())
	}
	target := matches[0]

	var patch metadataPatch
	if err := json.Unmarshal(patchBytes, &patch); err != nil {
		return newError(KindMalformedRequest, "invalid metadata patch: %s", err)
	}

	if patch.Description != nil {
		target.description = *patch.Description
	}
	if target.isLeaf() {
		if patch.Unit != nil {
			target.unit = *patch.Unit
		}
		if patch.Enum != nil {
			target.enum = patch.Enum
		}
		if patch.Min != nil {
			v, err := ValueFromJSON(*patch.Min)
			if err != nil {
				return err
			}
			target.min = &v
		}
		if patch.Max != nil {
			v, err := ValueFromJSON(*patch.Max)
			if err != nil {
				return err
			}
			target.max = &v
		}
	}
	return nil
}

// dumpNode renders n back to the same shape Init consumes, including the
// current value when one has been set. Used by DumpMetadata to exercise
// the round-trip property in spec.md §8.
func dumpNode(n *node) treeDocumentNode {
	doc := treeDocumentNode{
		Type:        string(n.nodeType),
		Description: n.description,
		Uuid:        n.uuid,
	}
	if n.isLeaf() {
		doc.Datatype = string(n.datatype)
		doc.Unit = n.unit
		doc.Enum = n.enum
		if n.min != nil {
			if b, err := n.min.MarshalJSON(); err == nil {
				doc.Min = b
			}
		}
		if n.max != nil {
			if b, err := n.max.MarshalJSON(); err == nil {
				doc.Max = b
			}
		}
		if n.hasValue {
			if b, err := n.value.MarshalJSON(); err == nil {
				doc.Value = b
			}
		}
		return doc
	}
	doc.Children = map[string]treeDocumentNode{}
	for name, child := range n.children {
		doc.Children[name] = dumpNode(child)
	}
	return doc
}

// DumpMetadata serializes the whole live tree back to the JSON document
// shape Init accepts (spec.md §8 property 6 / SPEC_FULL.md §4.2).
func (self *SignalTree) DumpMetadata() ([]byte, error) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	out := map[string]treeDocumentNode{}
	for name, child := range self.root.children {
		out[name] = dumpNode(child)
	}
	return json.Marshal(out)
}

// Stats is read by the admin surface's /stats endpoint (SPEC_FULL.md §4.5).
type Stats struct {
	NodeCount int `json:"nodeCount"`
}

func (self *SignalTree) StatsSnapshot() Stats {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	return Stats{NodeCount: len(self.byUUID)}
}
