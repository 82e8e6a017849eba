/*
* The MIT License (MIT)
* =====================
*
* Copyright (c) 2015, Cagatay Dogan
*
* Permission is hereby granted, free of charge, to any person obtaining a copy
* of this software and associated documentation files (the "Software"), to deal
* in the Software without restriction, including without limitation the rights
* to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
* copies of the Software, and to permit persons to whom the Software is
* furnished to do so, subject to the following conditions:
*
* The above copyright notice and this permission notice shall be included in
* all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
* IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
* FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
* AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
* LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
* OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
* THE SOFTWARE.
 */


package tree

import "sync"

const (
	red   = byte(0)
	black = byte(1)
)

type rbNode[V any] struct {
	key    int64
	value  V
	colour byte
	left   *rbNode[V]
	right  *rbNode[V]
}

// RbTree is a left-leaning red-black tree keyed by int64 timestamps.
//
// Every structural change (insert of a new key, delete) bumps Version, so
// callers can memoize positions and detect when they went stale.
type RbTree[V any] struct {
	root    *rbNode[V]
	count   int
	version uint64
	mutex   sync.RWMutex
}

func NewRbTree[V any]() *RbTree[V] {
	return &RbTree[V]{}
}

func newRbNode[V any](key int64, value V) *rbNode[V] {
	return &rbNode[V]{
		key:    key,
		value:  value,
		colour: red,
	}
}

func isRed[V any](node *rbNode[V]) bool {
	return node != nil && node.colour == red
}

func isBlack[V any](node *rbNode[V]) bool {
	return node != nil && node.colour == black
}

func min[V any](node *rbNode[V]) *rbNode[V] {
	if node != nil {
		for node.left != nil {
			node = node.left
		}
	}
	return node
}

func max[V any](node *rbNode[V]) *rbNode[V] {
	if node != nil {
		for node.right != nil {
			node = node.right
		}
	}
	return node
}

func floor[V any](node *rbNode[V], key int64) *rbNode[V] {
	if node == nil {
		return nil
	}

	switch {
	case key == node.key:
		return node
	case key < node.key:
		return floor(node.left, key)
	default:
		fn := floor(node.right, key)
		if fn != nil {
			return fn
		}
		return node
	}
}

func ceiling[V any](node *rbNode[V], key int64) *rbNode[V] {
	if node == nil {
		return nil
	}

	switch {
	case key == node.key:
		return node
	case key > node.key:
		return ceiling(node.right, key)
	default:
		cn := ceiling(node.left, key)
		if cn != nil {
			return cn
		}
		return node
	}
}

func higher[V any](node *rbNode[V], key int64) *rbNode[V] {
	if node == nil {
		return nil
	}

	if key >= node.key {
		return higher(node.right, key)
	}
	cn := higher(node.left, key)
	if cn != nil {
		return cn
	}
	return node
}

func lower[V any](node *rbNode[V], key int64) *rbNode[V] {
	if node == nil {
		return nil
	}

	if key <= node.key {
		return lower(node.left, key)
	}
	fn := lower(node.right, key)
	if fn != nil {
		return fn
	}
	return node
}

func flipSingleNodeColour[V any](node *rbNode[V]) {
	if node.colour == black {
		node.colour = red
	} else {
		node.colour = black
	}
}

// Flips the colours of node, and its two children
func colourFlip[V any](node *rbNode[V]) {
	flipSingleNodeColour(node)
	flipSingleNodeColour(node.left)
	flipSingleNodeColour(node.right)
}

func rotateLeft[V any](node *rbNode[V]) *rbNode[V] {
	child := node.right
	node.right = child.left
	child.left = node
	child.colour = node.colour
	node.colour = red
	return child
}

func rotateRight[V any](node *rbNode[V]) *rbNode[V] {
	child := node.left
	node.left = child.right
	child.right = node
	child.colour = node.colour
	node.colour = red
	return child
}

// moveRedLeft makes node.left or one of its children red,
// assuming that node is red and both children are black.
func moveRedLeft[V any](node *rbNode[V]) *rbNode[V] {
	colourFlip(node)

	if isRed(node.right.left) {
		node.right = rotateRight(node.right)
		node = rotateLeft(node)
		colourFlip(node)
	}
	return node
}

// moveRedRight makes node.right or one of its children red,
// assuming that node is red and both children are black.
func moveRedRight[V any](node *rbNode[V]) *rbNode[V] {
	colourFlip(node)
	if isRed(node.left.left) {
		node = rotateRight(node)
		colourFlip(node)
	}
	return node
}

func balance[V any](node *rbNode[V]) *rbNode[V] {
	if isRed(node.right) {
		node = rotateLeft(node)
	}

	if isRed(node.left) && isRed(node.left.left) {
		node = rotateRight(node)
	}
	if isRed(node.left) && isRed(node.right) {
		colourFlip(node)
	}
	return node
}

func deleteMin[V any](node *rbNode[V]) *rbNode[V] {
	if node.left == nil {
		return nil
	}

	if isBlack(node.left) && !isRed(node.left.left) {
		node = moveRedLeft(node)
	}
	node.left = deleteMin(node.left)
	return balance(node)
}

func (tree *RbTree[V]) Count() int {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.count
}

func (tree *RbTree[V]) IsEmpty() bool {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.root == nil
}

// Version is incremented on every structural change.
func (tree *RbTree[V]) Version() uint64 {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.version
}

func (tree *RbTree[V]) result(node *rbNode[V]) (int64, V, bool) {
	if node == nil {
		var zero V
		return 0, zero, false
	}
	return node.key, node.value, true
}

func (tree *RbTree[V]) Min() (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(min(tree.root))
}

func (tree *RbTree[V]) Max() (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(max(tree.root))
}

// Floor returns the largest key in the tree less than or equal to key
func (tree *RbTree[V]) Floor(key int64) (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(floor(tree.root, key))
}

// Ceiling returns the smallest key in the tree greater than or equal to key
func (tree *RbTree[V]) Ceiling(key int64) (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(ceiling(tree.root, key))
}

// Higher returns the smallest key in the tree strictly greater than key
func (tree *RbTree[V]) Higher(key int64) (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(higher(tree.root, key))
}

// Lower returns the largest key in the tree strictly less than key
func (tree *RbTree[V]) Lower(key int64) (int64, V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	return tree.result(lower(tree.root, key))
}

func (tree *RbTree[V]) find(key int64) *rbNode[V] {
	for node := tree.root; node != nil; {
		switch {
		case key < node.key:
			node = node.left
		case key > node.key:
			node = node.right
		default:
			return node
		}
	}
	return nil
}

func (tree *RbTree[V]) Get(key int64) (V, bool) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	_, value, ok := tree.result(tree.find(key))
	return value, ok
}

func (tree *RbTree[V]) Exists(key int64) bool {
	_, found := tree.Get(key)
	return found
}

// insertNode adds the given key and value into the node
func (tree *RbTree[V]) insertNode(node *rbNode[V], key int64, value V) *rbNode[V] {
	if node == nil {
		tree.count++
		tree.version++
		return newRbNode(key, value)
	}

	switch {
	case key < node.key:
		node.left = tree.insertNode(node.left, key, value)
	case key > node.key:
		node.right = tree.insertNode(node.right, key, value)
	default:
		node.value = value
	}
	return balance(node)
}

// Insert inserts the given key and value into the tree. Replacing the value
// of an existing key does not change Version.
func (tree *RbTree[V]) Insert(key int64, value V) {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()
	tree.root = tree.insertNode(tree.root, key, value)
	tree.root.colour = black
}

// deleteNode deletes the given key from the node
func (tree *RbTree[V]) deleteNode(node *rbNode[V], key int64) *rbNode[V] {
	if node == nil {
		return nil
	}

	if key < node.key {
		if isBlack(node.left) && !isRed(node.left.left) {
			node = moveRedLeft(node)
		}
		node.left = tree.deleteNode(node.left, key)
	} else {
		if isRed(node.left) {
			node = rotateRight(node)
		}

		if isBlack(node.right) && !isRed(node.right.left) {
			node = moveRedRight(node)
		}

		if key != node.key {
			node.right = tree.deleteNode(node.right, key)
		} else {
			if node.right == nil {
				return nil
			}

			rm := min(node.right)
			node.key = rm.key
			node.value = rm.value
			node.right = deleteMin(node.right)

			rm.left = nil
			rm.right = nil
		}
	}
	return balance(node)
}

// Delete deletes the given key from the tree
func (tree *RbTree[V]) Delete(key int64) {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()
	if tree.find(key) == nil {
		return
	}

	tree.version++
	tree.count--
	tree.root = tree.deleteNode(tree.root, key)
	if tree.root != nil {
		tree.root.colour = black
	}
}

// Clear drops every node.
func (tree *RbTree[V]) Clear() {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()
	if tree.root == nil {
		return
	}
	tree.root = nil
	tree.count = 0
	tree.version++
}

type RbTreeCallback[V any] func(int64, V) bool

func traverseFrom[V any](node *rbNode[V], from int64, callback RbTreeCallback[V]) bool {
	if node == nil {
		return false
	}

	if node.left != nil && from < node.key {
		shouldTerminate := traverseFrom(node.left, from, callback)
		if shouldTerminate {
			return true
		}
	}

	if node.key >= from {
		shouldTerminate := callback(node.key, node.value)
		if shouldTerminate {
			return true
		}
	}

	if node.right != nil {
		shouldTerminate := traverseFrom(node.right, from, callback)
		if shouldTerminate {
			return true
		}
	}
	return false
}

// Map visits all keys in ascending order until callback returns true.
func (tree *RbTree[V]) Map(fn RbTreeCallback[V]) {
	tree.MapFrom(-1<<63, fn)
}

// MapFrom visits keys >= from in ascending order until callback returns true.
func (tree *RbTree[V]) MapFrom(from int64, fn RbTreeCallback[V]) {
	tree.mutex.RLock()
	defer tree.mutex.RUnlock()
	traverseFrom(tree.root, from, fn)
}
