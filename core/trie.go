// SPDX-License-Identifier: Apache-2.0
package core

import "bytes"

// EmptyTrieRoot is the root hash of a trie with no entries, the zero
// hash by convention (spec.md §4).
var EmptyTrieRoot = Hash{}

// Trie is a content-addressed Merkle-Patricia-Trie over arbitrary byte
// keys, mirroring Ethereum's state trie layout but with a private node
// encoding (spec.md §4). It holds no mutable root of its own; callers
// thread the root hash explicitly so the same store can serve many
// historical or speculative roots at once.
type Trie struct {
	store NodeStore
}

// NewTrie returns a Trie reading and writing nodes through store.
func NewTrie(store NodeStore) *Trie {
	return &Trie{store: store}
}

// Get looks up key under root, returning (nil, nil) on a miss.
func (t *Trie) Get(root Hash, key []byte) ([]byte, error) {
	if root.IsZero() {
		return nil, nil
	}
	return t.get(root, bytesToNibbles(key))
}

func (t *Trie) get(nodeHash Hash, path []byte) ([]byte, error) {
	node, err := t.store.GetNode(nodeHash)
	if err != nil {
		if coreErr, ok := err.(*Error); ok && coreErr.Code == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	switch {
	case node.Leaf != nil:
		if bytes.Equal(node.Leaf.Path, path) {
			return node.Leaf.Value, nil
		}
		return nil, nil
	case node.Extension != nil:
		if !hasPrefix(path, node.Extension.Path) {
			return nil, nil
		}
		return t.get(node.Extension.Child, path[len(node.Extension.Path):])
	case node.Branch != nil:
		if len(path) == 0 {
			return node.Branch.Value, nil
		}
		child := node.Branch.Children[path[0]]
		if child == nil {
			return nil, nil
		}
		return t.get(*child, path[1:])
	}
	return nil, nil
}

func hasPrefix(path, prefix []byte) bool {
	if len(path) < len(prefix) {
		return false
	}
	return bytes.Equal(path[:len(prefix)], prefix)
}

// Put inserts or overwrites key with value under root, returning the new
// root hash.
func (t *Trie) Put(root Hash, key, value []byte) (Hash, error) {
	path := bytesToNibbles(key)
	if root.IsZero() {
		leaf := &TrieNode{Leaf: &LeafNode{Path: path, Value: value}}
		return t.storeNode(leaf)
	}
	return t.put(root, path, value)
}

func (t *Trie) put(nodeHash Hash, path, value []byte) (Hash, error) {
	node, err := t.store.GetNode(nodeHash)
	if err != nil {
		return Hash{}, err
	}
	switch {
	case node.Leaf != nil:
		return t.putIntoLeaf(node.Leaf, path, value)
	case node.Extension != nil:
		return t.putIntoExtension(node.Extension, path, value)
	case node.Branch != nil:
		return t.putIntoBranch(node.Branch, path, value)
	}
	return Hash{}, NewError(ErrStorageCorrupt, "trie: empty node variant")
}

func (t *Trie) putIntoLeaf(leaf *LeafNode, path, value []byte) (Hash, error) {
	if bytes.Equal(leaf.Path, path) {
		return t.storeNode(&TrieNode{Leaf: &LeafNode{Path: path, Value: value}})
	}
	common := commonPrefixLen(leaf.Path, path)
	branch := &BranchNode{}

	if err := t.placeRemainder(branch, leaf.Path, common, leaf.Value); err != nil {
		return Hash{}, err
	}
	if err := t.placeRemainder(branch, path, common, value); err != nil {
		return Hash{}, err
	}
	return t.wrapBranchWithExtension(branch, path[:common])
}

func (t *Trie) putIntoExtension(ext *ExtensionNode, path, value []byte) (Hash, error) {
	if hasPrefix(path, ext.Path) {
		newChild, err := t.put(ext.Child, path[len(ext.Path):], value)
		if err != nil {
			return Hash{}, err
		}
		return t.storeNode(&TrieNode{Extension: &ExtensionNode{Path: ext.Path, Child: newChild}})
	}
	common := commonPrefixLen(ext.Path, path)
	branch := &BranchNode{}

	if common < len(ext.Path) {
		remExt := &TrieNode{Extension: &ExtensionNode{Path: ext.Path[common+1:], Child: ext.Child}}
		var childHash Hash
		var err error
		if len(ext.Path)-common-1 == 0 {
			childHash = ext.Child
		} else {
			childHash, err = t.storeNode(remExt)
			if err != nil {
				return Hash{}, err
			}
		}
		h := childHash
		branch.Children[ext.Path[common]] = &h
	}
	if err := t.placeRemainder(branch, path, common, value); err != nil {
		return Hash{}, err
	}
	return t.wrapBranchWithExtension(branch, path[:common])
}

func (t *Trie) putIntoBranch(branch *BranchNode, path, value []byte) (Hash, error) {
	newBranch := *branch
	if len(path) == 0 {
		newBranch.Value = value
		return t.storeNode(&TrieNode{Branch: &newBranch})
	}
	idx := path[0]
	rest := path[1:]
	if newBranch.Children[idx] == nil {
		leafHash, err := t.storeNode(&TrieNode{Leaf: &LeafNode{Path: rest, Value: value}})
		if err != nil {
			return Hash{}, err
		}
		newBranch.Children[idx] = &leafHash
	} else {
		childHash, err := t.put(*newBranch.Children[idx], rest, value)
		if err != nil {
			return Hash{}, err
		}
		newBranch.Children[idx] = &childHash
	}
	return t.storeNode(&TrieNode{Branch: &newBranch})
}

// placeRemainder inserts (path[common:], value) as a child of branch at
// index path[common], storing a leaf for the tail (or setting branch's
// own Value if the path is fully consumed at common).
func (t *Trie) placeRemainder(branch *BranchNode, path []byte, common int, value []byte) error {
	if common == len(path) {
		branch.Value = value
		return nil
	}
	idx := path[common]
	tail := path[common+1:]
	h, err := t.storeNode(&TrieNode{Leaf: &LeafNode{Path: tail, Value: value}})
	if err != nil {
		return err
	}
	branch.Children[idx] = &h
	return nil
}

// wrapBranchWithExtension stores branch and, if prefix is non-empty,
// wraps it in an extension node carrying that shared prefix.
func (t *Trie) wrapBranchWithExtension(branch *BranchNode, prefix []byte) (Hash, error) {
	branchHash, err := t.storeNode(&TrieNode{Branch: branch})
	if err != nil {
		return Hash{}, err
	}
	if len(prefix) == 0 {
		return branchHash, nil
	}
	return t.storeNode(&TrieNode{Extension: &ExtensionNode{Path: prefix, Child: branchHash}})
}

func (t *Trie) storeNode(n *TrieNode) (Hash, error) {
	h := hashNode(n)
	if err := t.store.PutNode(h, n); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// Delete removes key from the trie rooted at root, returning the new
// root hash. Deleting a key that is not present is a no-op. Branches left
// with a single remaining child are collapsed into an extension (or
// merged into their parent extension) so that the trie never accumulates
// degenerate single-child branches.
func (t *Trie) Delete(root Hash, key []byte) (Hash, error) {
	if root.IsZero() {
		return root, nil
	}
	newHash, _, err := t.del(root, bytesToNibbles(key))
	if err != nil {
		return Hash{}, err
	}
	if newHash == nil {
		return EmptyTrieRoot, nil
	}
	return *newHash, nil
}

// del returns (newNodeHash, removed, err). newNodeHash is nil if the
// subtree became empty.
func (t *Trie) del(nodeHash Hash, path []byte) (*Hash, bool, error) {
	node, err := t.store.GetNode(nodeHash)
	if err != nil {
		return nil, false, err
	}
	switch {
	case node.Leaf != nil:
		if !bytes.Equal(node.Leaf.Path, path) {
			h := nodeHash
			return &h, false, nil
		}
		return nil, true, nil

	case node.Extension != nil:
		if !hasPrefix(path, node.Extension.Path) {
			h := nodeHash
			return &h, false, nil
		}
		childHash, removed, err := t.del(node.Extension.Child, path[len(node.Extension.Path):])
		if err != nil {
			return nil, false, err
		}
		if !removed {
			h := nodeHash
			return &h, false, nil
		}
		if childHash == nil {
			return nil, true, nil
		}
		h, err := t.storeNode(&TrieNode{Extension: &ExtensionNode{Path: node.Extension.Path, Child: *childHash}})
		if err != nil {
			return nil, false, err
		}
		return &h, true, nil

	case node.Branch != nil:
		newBranch := *node.Branch
		if len(path) == 0 {
			if newBranch.Value == nil {
				h := nodeHash
				return &h, false, nil
			}
			newBranch.Value = nil
		} else {
			idx := path[0]
			if newBranch.Children[idx] == nil {
				h := nodeHash
				return &h, false, nil
			}
			childHash, removed, err := t.del(*newBranch.Children[idx], path[1:])
			if err != nil {
				return nil, false, err
			}
			if !removed {
				h := nodeHash
				return &h, false, nil
			}
			newBranch.Children[idx] = childHash
		}
		h, err := t.storeNode(&TrieNode{Branch: &newBranch})
		if err != nil {
			return nil, false, err
		}
		return &h, true, nil
	}
	return nil, false, NewError(ErrStorageCorrupt, "trie: empty node variant")
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
