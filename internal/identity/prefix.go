package identity

import "github.com/hupe1980/nexus/model"

// hint is the (source, kind) pair implied by a stripped prefix or a host name.
// Either field may be empty.
type hint struct {
	source string
	kind   model.Kind
}

func (h hint) empty() bool { return h.source == "" && h.kind == "" }

// prefixEntry is a terminal trie node.
type prefixEntry struct {
	prefix string
	hint   hint
	// legacy prefixes carry only a source and are subject to extra checks.
	legacy bool
}

// trie is a byte trie over known prefixes supporting longest-match lookup at
// the start of a string.
type trie struct {
	root trieNode
}

type trieNode struct {
	next  map[byte]*trieNode
	entry *prefixEntry
}

func (t *trie) insert(e prefixEntry) {
	n := &t.root
	for i := 0; i < len(e.prefix); i++ {
		if n.next == nil {
			n.next = make(map[byte]*trieNode)
		}
		c := e.prefix[i]
		child, ok := n.next[c]
		if !ok {
			child = &trieNode{}
			n.next[c] = child
		}
		n = child
	}
	entry := e
	n.entry = &entry
}

// longest returns the longest registered prefix of s.
func (t *trie) longest(s string) (*prefixEntry, bool) {
	var best *prefixEntry
	n := &t.root
	for i := 0; i < len(s); i++ {
		child, ok := n.next[s[i]]
		if !ok {
			break
		}
		n = child
		if n.entry != nil {
			best = n.entry
		}
	}
	return best, best != nil
}

func canonicalPrefix(source string, kind model.Kind) string {
	return source + "-" + string(kind) + "--"
}
