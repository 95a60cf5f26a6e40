package cht

import "sort"

// dspTree is a B+ tree mapping slot ids to third-tier displacements. The
// trie writes each slot id at most once between rebuilds and never deletes,
// so only insert, search and a size counter are needed.
type dspTree struct {
	order int
	root  *dspNode
	count uint64
}

type dspNode struct {
	keys     []uint64
	values   []uint64
	children []*dspNode
	leaf     bool
	next     *dspNode
}

func newDspNode(leaf bool) *dspNode {
	return &dspNode{
		keys: make([]uint64, 0, 8),
		leaf: leaf,
	}
}

func newDspTree(order int) *dspTree {
	if order < 3 {
		panic("bonsai/cht: B+ tree order must be at least 3")
	}
	return &dspTree{
		order: order,
		root:  newDspNode(true),
	}
}

func (t *dspTree) insert(key, value uint64) {
	root := t.root
	if len(root.keys) == t.order {
		newRoot := newDspNode(false)
		newRoot.children = append(newRoot.children, root)
		t.splitChild(newRoot, 0, root)
		t.root = newRoot
	}
	t.insertNonFull(t.root, key, value)
	t.count++
}

func (t *dspTree) insertNonFull(node *dspNode, key, value uint64) {
	if node.leaf {
		idx := sort.Search(len(node.keys), func(i int) bool { return node.keys[i] >= key })
		node.keys = append(node.keys, key)
		node.values = append(node.values, value)
		copy(node.keys[idx+1:], node.keys[idx:])
		node.keys[idx] = key
		copy(node.values[idx+1:], node.values[idx:])
		node.values[idx] = value
		return
	}
	idx := sort.Search(len(node.keys), func(i int) bool { return key < node.keys[i] })
	child := node.children[idx]
	if len(child.keys) == t.order {
		t.splitChild(node, idx, child)
		if key >= node.keys[idx] {
			idx++
		}
	}
	t.insertNonFull(node.children[idx], key, value)
}

func (t *dspTree) splitChild(parent *dspNode, idx int, child *dspNode) {
	mid := t.order / 2
	if child.leaf {
		newLeaf := newDspNode(true)
		newLeaf.keys = append(newLeaf.keys, child.keys[mid:]...)
		newLeaf.values = append(newLeaf.values, child.values[mid:]...)
		child.keys = child.keys[:mid]
		child.values = child.values[:mid]
		newLeaf.next = child.next
		child.next = newLeaf
		parent.keys = append(parent.keys, newLeaf.keys[0])
		parent.children = append(parent.children, nil)
		copy(parent.keys[idx+1:], parent.keys[idx:])
		parent.keys[idx] = newLeaf.keys[0]
		copy(parent.children[idx+2:], parent.children[idx+1:])
		parent.children[idx+1] = newLeaf
	} else {
		newInternal := newDspNode(false)
		promoteKey := child.keys[mid]
		newInternal.keys = append(newInternal.keys, child.keys[mid+1:]...)
		newInternal.children = append(newInternal.children, child.children[mid+1:]...)
		child.keys = child.keys[:mid]
		child.children = child.children[:mid+1]
		parent.keys = append(parent.keys, promoteKey)
		parent.children = append(parent.children, nil)
		copy(parent.keys[idx+1:], parent.keys[idx:])
		parent.keys[idx] = promoteKey
		copy(parent.children[idx+2:], parent.children[idx+1:])
		parent.children[idx+1] = newInternal
	}
}

func (t *dspTree) search(key uint64) (uint64, bool) {
	node := t.root
	for !node.leaf {
		idx := sort.Search(len(node.keys), func(i int) bool { return key < node.keys[i] })
		node = node.children[idx]
	}
	idx := sort.Search(len(node.keys), func(i int) bool { return node.keys[i] >= key })
	if idx < len(node.keys) && node.keys[idx] == key {
		return node.values[idx], true
	}
	return 0, false
}

func (t *dspTree) len() uint64 {
	return t.count
}
