// SPDX-License-Identifier: Apache-2.0
package core

// TrieNode is the sum type for Merkle-Patricia-Trie nodes (spec.md §4).
// Exactly one of Leaf, Extension, or Branch is non-nil for a given node;
// Empty nodes are represented as a nil *TrieNode rather than a variant.
type TrieNode struct {
	Leaf      *LeafNode
	Extension *ExtensionNode
	Branch    *BranchNode
}

// LeafNode terminates a path with a value. Path holds the remaining
// nibbles from this node to the leaf.
type LeafNode struct {
	Path  []byte // nibbles, 0..15 each
	Value []byte
}

// ExtensionNode shares a common nibble prefix among multiple children,
// pointing at a single child (always a branch).
type ExtensionNode struct {
	Path  []byte // nibbles
	Child Hash   // content address of the child node
}

// BranchNode has up to 16 children, one per nibble, plus an optional
// value for the (rare) case where a key terminates exactly at the branch.
type BranchNode struct {
	Children [16]*Hash // nil entry means no child on that nibble
	Value    []byte
}

// bytesToNibbles expands a byte slice into its nibble sequence, high
// nibble first, matching the hex-prefix encoding convention used by
// Ethereum's Merkle-Patricia-Trie (spec.md §4.1).
func bytesToNibbles(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = v >> 4
		out[i*2+1] = v & 0x0f
	}
	return out
}

// nibblesToBytes packs a nibble sequence back into bytes. len(nibbles)
// must be even.
func nibblesToBytes(nibbles []byte) []byte {
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[i*2]<<4 | nibbles[i*2+1]
	}
	return out
}

// hexPrefixEncode implements the compact nibble encoding (Ethereum's
// "hex prefix"): the first byte's high nibble carries two flag bits
// (odd-length, terminator) and, for even-length paths, an extra zero
// nibble pads the first byte.
func hexPrefixEncode(nibbles []byte, terminator bool) []byte {
	oddLen := len(nibbles)%2 == 1
	flag := byte(0)
	if terminator {
		flag |= 0x20
	}
	if oddLen {
		flag |= 0x10
	}
	var prefixed []byte
	if oddLen {
		prefixed = append([]byte{flag >> 4}, nibbles...)
	} else {
		prefixed = append([]byte{flag >> 4, 0}, nibbles...)
	}
	return nibblesToBytes(prefixed)
}

// hexPrefixDecode reverses hexPrefixEncode, returning the original
// nibbles and whether the terminator flag was set.
func hexPrefixDecode(encoded []byte) (nibbles []byte, terminator bool) {
	all := bytesToNibbles(encoded)
	flag := all[0]
	terminator = flag&0x02 != 0
	oddLen := flag&0x01 != 0
	if oddLen {
		return all[1:], terminator
	}
	return all[2:], terminator
}

// encodeNode produces the canonical byte representation hashed to
// content-address a node, and decodeNode reverses it. The format is a
// small tagged encoding private to this store: it is never exposed on
// the wire, so it need not match Ethereum's RLP.
const (
	nodeTagLeaf      = 0
	nodeTagExtension = 1
	nodeTagBranch    = 2
)

func encodeNode(n *TrieNode) []byte {
	w := NewWriter(64)
	switch {
	case n.Leaf != nil:
		w.WriteU8(nodeTagLeaf)
		w.WriteBytes(hexPrefixEncode(n.Leaf.Path, true))
		w.WriteBytes(n.Leaf.Value)
	case n.Extension != nil:
		w.WriteU8(nodeTagExtension)
		w.WriteBytes(hexPrefixEncode(n.Extension.Path, false))
		w.WriteHash(n.Extension.Child)
	case n.Branch != nil:
		w.WriteU8(nodeTagBranch)
		for _, c := range n.Branch.Children {
			if c == nil {
				w.WriteU8(0)
				continue
			}
			w.WriteU8(1)
			w.WriteHash(*c)
		}
		hasValue := n.Branch.Value != nil
		if hasValue {
			w.WriteU8(1)
			w.WriteBytes(n.Branch.Value)
		} else {
			w.WriteU8(0)
		}
	}
	return w.Bytes()
}

func decodeNode(b []byte) (*TrieNode, error) {
	r := NewReader(b)
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case nodeTagLeaf:
		encPath, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		value, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		path, _ := hexPrefixDecode(encPath)
		return &TrieNode{Leaf: &LeafNode{Path: path, Value: value}}, nil
	case nodeTagExtension:
		encPath, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		child, err := r.ReadHash()
		if err != nil {
			return nil, err
		}
		path, _ := hexPrefixDecode(encPath)
		return &TrieNode{Extension: &ExtensionNode{Path: path, Child: child}}, nil
	case nodeTagBranch:
		var branch BranchNode
		for i := 0; i < 16; i++ {
			present, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			if present == 1 {
				h, err := r.ReadHash()
				if err != nil {
					return nil, err
				}
				hc := h
				branch.Children[i] = &hc
			}
		}
		hasValue, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if hasValue == 1 {
			value, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			branch.Value = value
		}
		return &TrieNode{Branch: &branch}, nil
	default:
		return nil, NewError(ErrStorageCorrupt, "trie: unknown node tag")
	}
}

// hashNode returns the content address of a node: BLAKE3 of its encoded
// form (spec.md §4.1).
func hashNode(n *TrieNode) Hash {
	return Blake3Hash(encodeNode(n))
}
