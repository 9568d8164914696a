package vss

import (
	"encoding/json"
	"sync"
	"time"
)

// SignalTree owns the typed VSS tree: path resolution (including wildcard
// expansion), type-checked writes, and metadata extraction, per spec.md
// §4.2. A single sync.RWMutex guards the whole tree; reads take RLock,
// writes and metadata merges take Lock, matching the corpus's own
// mutex-per-shared-structure idiom (connect/transfer_route_manager.go).
type SignalTree struct {
	mutex  sync.RWMutex
	root   *node
	byUUID map[string]*node
}

func NewSignalTree() *SignalTree {
	return &SignalTree{
		root:   &node{name: "", nodeType: NodeTypeBranch, children: map[string]*node{}},
		byUUID: map[string]*node{},
	}
}

type treeDocumentNode struct {
	Type        string                      `json:"type"`
	Description string                      `json:"description,omitempty"`
	Uuid        string                      `json:"uuid,omitempty"`
	Datatype    string                      `json:"datatype,omitempty"`
	Unit        string                      `json:"unit,omitempty"`
	Min         json.RawMessage             `json:"min,omitempty"`
	Max         json.RawMessage             `json:"max,omitempty"`
	Enum        []string                    `json:"enum,omitempty"`
	Value       json.RawMessage             `json:"value,omitempty"`
	Children    map[string]treeDocumentNode `json:"children,omitempty"`
}

// Init parses a JSON document into the tree, per spec.md §4.2. It replaces
// any existing tree content; callers only do this once at startup.
func (self *SignalTree) Init(document []byte) error {
	var root map[string]treeDocumentNode
	if err := json.Unmarshal(document, &root); err != nil {
		return newError(KindSchemaError, "invalid document: %s", err)
	}

	newRoot := &node{name: "", nodeType: NodeTypeBranch, children: map[string]*node{}}
	byUUID := map[string]*node{}

	for name, docNode := range root {
		child, err := buildNode(name, docNode, byUUID)
		if err != nil {
			return err
		}
		newRoot.children[name] = child
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.root = newRoot
	self.byUUID = byUUID
	return nil
}

func buildNode(name string, doc treeDocumentNode, byUUID map[string]*node) (*node, error) {
	if doc.Type == "" {
		return nil, newError(KindSchemaError, "node %q has no type", name)
	}
	if doc.Uuid == "" {
		return nil, newError(KindSchemaError, "node %q has no uuid", name)
	}
	if _, exists := byUUID[doc.Uuid]; exists {
		return nil, newError(KindSchemaError, "duplicate uuid %q at node %q", doc.Uuid, name)
	}

	n := &node{
		name:        name,
		description: doc.Description,
		nodeType:    NodeType(doc.Type),
		uuid:        doc.Uuid,
	}

	if n.nodeType == NodeTypeBranch {
		n.children = map[string]*node{}
		for childName, childDoc := range doc.Children {
			child, err := buildNode(childName, childDoc, byUUID)
			if err != nil {
				return nil, err
			}
			n.children[childName] = child
		}
	} else if n.nodeType.isLeafType() {
		if doc.Datatype == "" {
			return nil, newError(KindSchemaError, "leaf %q has no datatype", name)
		}
		datatype := Datatype(doc.Datatype)
		if !datatype.isValid() {
			return nil, newError(KindSchemaError, "leaf %q has unknown datatype %q", name, doc.Datatype)
		}
		n.datatype = datatype
		n.unit = doc.Unit
		n.enum = doc.Enum
		if len(doc.Min) > 0 {
			if v, err := ValueFromJSON(doc.Min); err == nil {
				n.min = &v
			}
		}
		if len(doc.Max) > 0 {
			if v, err := ValueFromJSON(doc.Max); err == nil {
				n.max = &v
			}
		}
		if len(doc.Value) > 0 {
			v, err := ValueFromJSON(doc.Value)
			if err == nil {
				coerced, err := coerce(n.datatype, v)
				if err == nil {
					n.value = coerced
					n.hasValue = true
					n.timestamp = time.Now()
				}
			}
		}
	} else {
		return nil, newError(KindSchemaError, "node %q has unknown type %q", name, doc.Type)
	}

	byUUID[n.uuid] = n
	return n, nil
}

// resolveFrom walks tokens from n, returning every node matched. A "*" token
// matches every direct child at that position; the walk then continues
// recursing from each match with the remaining tokens.
func resolveFrom(n *node, tokens []string) []*node {
	if len(tokens) == 0 {
		return []*node{n}
	}
	if n.children == nil {
		return nil
	}
	head := tokens[0]
	rest := tokens[1:]

	var matches []*node
	if head == "*" {
		for _, name := range n.sortedChildNames() {
			matches = append(matches, resolveFrom(n.children[name], rest)...)
		}
		return matches
	}
	child, ok := n.children[head]
	if !ok {
		return nil
	}
	return resolveFrom(child, rest)
}

// collectLeaves appends every leaf descendant of n (including n itself if
// it is already a leaf) in deterministic depth-first, alphabetical order.
func collectLeaves(n *node, prefix Path, out *[]Path) {
	if n.isLeaf() {
		*out = append(*out, prefix)
		return
	}
	for _, name := range n.sortedChildNames() {
		collectLeaves(n.children[name], prefix.Append(name), out)
	}
}

// GetLeafPaths resolves p (possibly wildcarded) to the set of leaf paths it
// matches, per spec.md §4.2.
func (self *SignalTree) GetLeafPaths(p Path) []Path {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	matches := resolveFrom(self.root, p.Tokens())
	matchedPrefixes := canonicalPrefixesOf(p, matches, self.root)

	var out []Path
	for i, n := range matches {
		collectLeaves(n, matchedPrefixes[i], &out)
	}
	return out
}

// canonicalPrefixesOf rebuilds the canonical path for each resolved node so
// collectLeaves can append further child names onto the right prefix, even
// when p contained a wildcard.
func canonicalPrefixesOf(p Path, matches []*node, root *node) []Path {
	if !p.IsWildcard() {
		prefixes := make([]Path, len(matches))
		for i := range matches {
			prefixes[i] = p
		}
		return prefixes
	}
	// re-walk to recover the concrete name chosen at each wildcard position
	prefixes := make([]Path, 0, len(matches))
	var walk func(n *node, tokens []string, prefix Path)
	walk = func(n *node, tokens []string, prefix Path) {
		if len(tokens) == 0 {
			prefixes = append(prefixes, prefix)
			return
		}
		head := tokens[0]
		rest := tokens[1:]
		if head == "*" {
			for _, name := range n.sortedChildNames() {
				walk(n.children[name], rest, prefix.Append(name))
			}
			return
		}
		child, ok := n.children[head]
		if !ok {
			return
		}
		walk(child, rest, prefix.Append(head))
	}
	walk(root, p.Tokens(), Path{})
	return prefixes
}

// SignalView is the value payload for a single-leaf or branch "get", per
// spec.md §4.2.
type SignalView struct {
	Path      string
	Value     Value          // valid when Children == nil
	HasValue  bool
	Children  map[string]any // leaf-path -> Value or "---", valid for branch gets
	Timestamp time.Time
}

const noValueSentinel = "---"

// GetSignal implements spec.md §4.2's get_signal: single-leaf returns
// {path, value, timestamp}; branch returns {path, value: map<leaf-path,
// value-or-"---">}.
func (self *SignalTree) GetSignal(p Path) (SignalView, error) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	matches := resolveFrom(self.root, p.Tokens())
	if len(matches) == 0 {
		return SignalView{}, newError(KindPathNotFound, "%s", p.String())
	}

	if len(matches) == 1 && matches[0].isLeaf() && !p.IsWildcard() {
		n := matches[0]
		v := SignalView{Path: p.String(), Timestamp: n.timestamp}
		if n.hasValue {
			v.Value = n.value
			v.HasValue = true
		}
		return v, nil
	}

	children := map[string]any{}
	prefixes := canonicalPrefixesOf(p, matches, self.root)
	for i, m := range matches {
		var leaves []Path
		collectLeaves(m, prefixes[i], &leaves)
		for _, leafPath := range leaves {
			leaf := lookupExact(self.root, leafPath.Tokens())
			if leaf == nil {
				continue
			}
			if leaf.hasValue {
				children[leafPath.String()] = leaf.value
			} else {
				children[leafPath.String()] = noValueSentinel
			}
		}
	}
	return SignalView{Path: p.String(), Children: children}, nil
}

func lookupExact(root *node, tokens []string) *node {
	n := root
	for _, t := range tokens {
		if n.children == nil {
			return nil
		}
		next, ok := n.children[t]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

// SetSignal implements spec.md §4.2's set_signal. On success it returns the
// (uuid, coerced-value) pairs for the subscription engine, in
// leaf-discovery order.
func (self *SignalTree) SetSignal(channel *Channel, p Path, raw json.RawMessage) ([]UUIDValue, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	matches := resolveFrom(self.root, p.Tokens())
	if len(matches) == 0 {
		return nil, newError(KindPathNotFound, "%s", p.String())
	}

	if p.IsWildcard() {
		return self.setWildcard(channel, matches, p, raw)
	}

	target := matches[0]
	if !target.isLeaf() {
		return nil, newError(KindNotALeaf, "%s is a branch", p.String())
	}
	if !channel.CanWrite(p.String()) {
		return nil, newError(KindNoPermission, "%s", p.String())
	}
	v, err := ValueFromJSON(raw)
	if err != nil {
		return nil, err
	}
	coerced, err := coerce(target.datatype, v)
	if err != nil {
		return nil, err
	}
	target.value = coerced
	target.hasValue = true
	target.timestamp = time.Now()
	return []UUIDValue{{UUID: target.uuid, Value: coerced, Timestamp: target.timestamp}}, nil
}

// UUIDValue is the (uuid, value) pair spec.md §4.2 sends the subscription
// engine after a successful write.
type UUIDValue struct {
	UUID      string
	Value     Value
	Timestamp time.Time
}

// setWildcard implements the wildcard write in spec.md §4.2: raw must be a
// JSON array of {name: value} objects, zipped by name against the
// wildcard's matched direct children, not by index. Each matched child is
// permission-checked individually, mirroring the single-leaf branch in
// SetSignal above, so a channel without write access cannot use a wildcard
// write to reach a leaf it couldn't write directly.
func (self *SignalTree) setWildcard(channel *Channel, matches []*node, p Path, raw json.RawMessage) ([]UUIDValue, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, newError(KindMalformedRequest, "wildcard set requires an array of name:value objects: %s", err)
	}

	byName := map[string]*node{}
	pathByName := map[string]Path{}
	prefixes := canonicalPrefixesOf(p, matches, self.root)
	for i, m := range matches {
		byName[m.name] = m
		pathByName[m.name] = prefixes[i]
	}

	var results []UUIDValue
	for _, entry := range entries {
		for name, rawValue := range entry {
			target, ok := byName[name]
			if !ok {
				return nil, newError(KindPathNotValid, "%q does not match the wildcard", name)
			}
			if !target.isLeaf() {
				return nil, newError(KindNotALeaf, "%s is a branch", name)
			}
			if !channel.CanWrite(pathByName[name].String()) {
				return nil, newError(KindNoPermission, "%s", pathByName[name].String())
			}
			v, err := ValueFromJSON(rawValue)
			if err != nil {
				return nil, err
			}
			coerced, err := coerce(target.datatype, v)
			if err != nil {
				return nil, err
			}
			target.value = coerced
			target.hasValue = true
			target.timestamp = time.Now()
			results = append(results, UUIDValue{UUID: target.uuid, Value: coerced, Timestamp: target.timestamp})
		}
	}
	return results, nil
}

// NodeUUID returns the uuid of the single leaf p resolves to, for
// SubscriptionEngine.Subscribe. It fails NotSingleSignal if p matches more
// than one node and NotALeaf if the single match is a branch.
func (self *SignalTree) NodeUUID(p Path) (string, error) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	matches := resolveFrom(self.root, p.Tokens())
	if len(matches) == 0 {
		return "", newError(KindPathNotFound, "%s", p.String())
	}
	if len(matches) > 1 {
		return "", newError(KindNotSingleSignal, "%s matches %d signals", p.String(), len(matches))
	}
	if !matches[0].isLeaf() {
		return "", newError(KindNotALeaf, "%s is a branch", p.String())
	}
	return matches[0].uuid, nil
}
