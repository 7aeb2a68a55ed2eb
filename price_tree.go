package engine

import (
	"github.com/shopspring/decimal"
)

// priceTree is the ordered price index of one book side: a red-black tree
// keyed by price, with the price level stored in the node. Keys are compared
// with decimal.Cmp, so two representations of the same numeric price always
// land on the same node.
//
// Deletion follows the classic two-case scheme (splice when the node has at
// most one child, otherwise replace with the in-order successor) and a fixup
// pass restoring the red-black properties: no red node with a red parent,
// equal black count on every root-to-leaf path, black root.
//
// All operations are O(log n) in the number of distinct price levels.

type treeColor uint8

const (
	red   treeColor = 0
	black treeColor = 1
)

type treeNode struct {
	key    decimal.Decimal
	level  *levelQueue
	color  treeColor
	left   *treeNode
	right  *treeNode
	parent *treeNode
}

type priceTree struct {
	root *treeNode
	nil_ *treeNode // shared black sentinel
	size int
}

// newPriceTree constructs an empty tree with a black sentinel.
func newPriceTree() *priceTree {
	nilNode := &treeNode{color: black}
	return &priceTree{
		root: nilNode,
		nil_: nilNode,
	}
}

func (t *priceTree) count() int { return t.size }

// find returns the level stored at price, or nil when the price is absent.
func (t *priceTree) find(price decimal.Decimal) *levelQueue {
	n := t.searchNode(price)
	if n == t.nil_ {
		return nil
	}
	return n.level
}

func (t *priceTree) exists(price decimal.Decimal) bool {
	return t.searchNode(price) != t.nil_
}

// upsert returns the level at price, inserting a fresh empty level when the
// price is not yet indexed. Inserting an existing price is a no-op.
func (t *priceTree) upsert(price decimal.Decimal) *levelQueue {
	y := t.nil_
	x := t.root
	for x != t.nil_ {
		y = x
		cmp := price.Cmp(x.key)
		if cmp < 0 {
			x = x.left
		} else if cmp > 0 {
			x = x.right
		} else {
			return x.level
		}
	}

	lvl := newLevelQueue(price)
	z := &treeNode{
		key:    price,
		level:  lvl,
		color:  red,
		left:   t.nil_,
		right:  t.nil_,
		parent: y,
	}

	if y == t.nil_ {
		t.root = z
	} else if price.Cmp(y.key) < 0 {
		y.left = z
	} else {
		y.right = z
	}
	t.insertFixup(z)
	t.size++
	return lvl
}

// remove deletes the price from the index. Returns errPriceNotFound when the
// price is absent.
func (t *priceTree) remove(price decimal.Decimal) error {
	z := t.searchNode(price)
	if z == t.nil_ {
		return errPriceNotFound
	}
	t.deleteNode(z)
	t.size--
	return nil
}

// min returns the lowest-priced level, or nil when the tree is empty.
func (t *priceTree) min() *levelQueue {
	n := t.minNode(t.root)
	if n == t.nil_ {
		return nil
	}
	return n.level
}

// max returns the highest-priced level, or nil when the tree is empty.
func (t *priceTree) max() *levelQueue {
	n := t.maxNode(t.root)
	if n == t.nil_ {
		return nil
	}
	return n.level
}

// successor returns the level with the smallest key strictly greater than
// price, or nil when none exists. The price itself need not be present.
func (t *priceTree) successor(price decimal.Decimal) *levelQueue {
	n := t.root
	succ := t.nil_
	for n != t.nil_ {
		if price.Cmp(n.key) < 0 {
			succ = n
			n = n.left
		} else {
			n = n.right
		}
	}
	if succ == t.nil_ {
		return nil
	}
	return succ.level
}

// predecessor returns the level with the largest key strictly less than
// price, or nil when none exists.
func (t *priceTree) predecessor(price decimal.Decimal) *levelQueue {
	n := t.root
	pred := t.nil_
	for n != t.nil_ {
		if price.Cmp(n.key) > 0 {
			pred = n
			n = n.right
		} else {
			n = n.left
		}
	}
	if pred == t.nil_ {
		return nil
	}
	return pred.level
}

// ascend visits every level in increasing price order until fn returns false.
func (t *priceTree) ascend(fn func(*levelQueue) bool) {
	for n := t.minNode(t.root); n != t.nil_; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// descend visits every level in decreasing price order until fn returns false.
func (t *priceTree) descend(fn func(*levelQueue) bool) {
	for n := t.maxNode(t.root); n != t.nil_; n = t.prev(n) {
		if !fn(n.level) {
			return
		}
	}
}

func (t *priceTree) searchNode(price decimal.Decimal) *treeNode {
	n := t.root
	for n != t.nil_ {
		cmp := price.Cmp(n.key)
		if cmp < 0 {
			n = n.left
		} else if cmp > 0 {
			n = n.right
		} else {
			return n
		}
	}
	return t.nil_
}

func (t *priceTree) minNode(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	for n.left != t.nil_ {
		n = n.left
	}
	return n
}

func (t *priceTree) maxNode(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	for n.right != t.nil_ {
		n = n.right
	}
	return n
}

func (t *priceTree) next(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	if n.right != t.nil_ {
		return t.minNode(n.right)
	}
	p := n.parent
	for p != t.nil_ && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *priceTree) prev(n *treeNode) *treeNode {
	if n == t.nil_ {
		return t.nil_
	}
	if n.left != t.nil_ {
		return t.maxNode(n.left)
	}
	p := n.parent
	for p != t.nil_ && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (t *priceTree) leftRotate(x *treeNode) {
	y := x.right
	if y == t.nil_ {
		panic("price tree: left rotation with no right child")
	}
	x.right = y.left
	if y.left != t.nil_ {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nil_ {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *priceTree) rightRotate(y *treeNode) {
	x := y.left
	if x == t.nil_ {
		panic("price tree: right rotation with no left child")
	}
	y.left = x.right
	if x.right != t.nil_ {
		x.right.parent = y
	}
	x.parent = y.parent
	if y.parent == t.nil_ {
		t.root = x
	} else if y == y.parent.right {
		y.parent.right = x
	} else {
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *priceTree) insertFixup(z *treeNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *priceTree) transplant(u, v *treeNode) {
	if u.parent == t.nil_ {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *priceTree) deleteNode(z *treeNode) {
	y := z
	yOrigColor := y.color
	var x *treeNode

	if z.left == t.nil_ {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nil_ {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minNode(z.right)
		yOrigColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOrigColor == black {
		t.deleteFixup(x)
	}
}

func (t *priceTree) deleteFixup(x *treeNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
