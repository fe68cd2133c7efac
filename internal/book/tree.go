package book

import "github.com/quantlab/orderflow/internal/domain"

type color bool

const (
	red   color = true
	black color = false
)

type node struct {
	price  int64
	level  domain.PriceLevel
	left   *node
	right  *node
	parent *node
	col    color
}

// tree is a red-black tree keyed by fixed-point price. A per-tree sentinel
// stands in for nil leaves so the delete fixup can recolor freely.
type tree struct {
	root *node
	nilN *node
	size int
}

func newTree() *tree {
	sentinel := &node{col: black}
	sentinel.left = sentinel
	sentinel.right = sentinel
	sentinel.parent = sentinel
	return &tree{root: sentinel, nilN: sentinel}
}

func (t *tree) clear() {
	t.root = t.nilN
	t.size = 0
}

// find returns the node for price, or nil when absent.
func (t *tree) find(price int64) *node {
	x := t.root
	for x != t.nilN {
		switch {
		case price < x.price:
			x = x.left
		case price > x.price:
			x = x.right
		default:
			return x
		}
	}
	return nil
}

// insert adds a node for price and returns it. An existing price returns the
// existing node untouched; callers update the level in place.
func (t *tree) insert(price int64) *node {
	y := t.nilN
	x := t.root
	for x != t.nilN {
		y = x
		switch {
		case price < x.price:
			x = x.left
		case price > x.price:
			x = x.right
		default:
			return x
		}
	}
	z := &node{
		price:  price,
		level:  domain.PriceLevel{Price: price},
		left:   t.nilN,
		right:  t.nilN,
		parent: y,
		col:    red,
	}
	if y == t.nilN {
		t.root = z
	} else if price < y.price {
		y.left = z
	} else {
		y.right = z
	}
	t.size++
	t.insertFixup(z)
	return z
}

func (t *tree) insertFixup(z *node) {
	for z.parent.col == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.col == red {
				z.parent.col = black
				y.col = black
				z.parent.parent.col = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.col = black
				z.parent.parent.col = red
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.col == red {
				z.parent.col = black
				y.col = black
				z.parent.parent.col = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.col = black
				z.parent.parent.col = red
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.col = black
}

func (t *tree) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != t.nilN {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *tree) rotateRight(x *node) {
	y := x.left
	x.left = y.right
	if y.right != t.nilN {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *tree) transplant(u, v *node) {
	if u.parent == t.nilN {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *tree) remove(z *node) {
	y := z
	yOrig := y.col
	var x *node
	if z.left == t.nilN {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilN {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minimum(z.right)
		yOrig = y.col
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
		y.col = z.col
	}
	t.size--
	if yOrig == black {
		t.removeFixup(x)
	}
}

func (t *tree) removeFixup(x *node) {
	for x != t.root && x.col == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.col == red {
				w.col = black
				x.parent.col = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.col == black && w.right.col == black {
				w.col = red
				x = x.parent
			} else {
				if w.right.col == black {
					w.left.col = black
					w.col = red
					t.rotateRight(w)
					w = x.parent.right
				}
				w.col = x.parent.col
				x.parent.col = black
				w.right.col = black
				t.rotateLeft(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.col == red {
				w.col = black
				x.parent.col = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.col == black && w.left.col == black {
				w.col = red
				x = x.parent
			} else {
				if w.left.col == black {
					w.right.col = black
					w.col = red
					t.rotateLeft(w)
					w = x.parent.left
				}
				w.col = x.parent.col
				x.parent.col = black
				w.left.col = black
				t.rotateRight(x.parent)
				x = t.root
			}
		}
	}
	x.col = black
}

func (t *tree) minimum(x *node) *node {
	for x.left != t.nilN {
		x = x.left
	}
	return x
}

func (t *tree) maximum(x *node) *node {
	for x.right != t.nilN {
		x = x.right
	}
	return x
}

// successor returns the next node in ascending price order, or nil.
func (t *tree) successor(x *node) *node {
	if x.right != t.nilN {
		return t.minimum(x.right)
	}
	y := x.parent
	for y != t.nilN && x == y.right {
		x = y
		y = y.parent
	}
	if y == t.nilN {
		return nil
	}
	return y
}

// predecessor returns the next node in descending price order, or nil.
func (t *tree) predecessor(x *node) *node {
	if x.left != t.nilN {
		return t.maximum(x.left)
	}
	y := x.parent
	for y != t.nilN && x == y.left {
		x = y
		y = y.parent
	}
	if y == t.nilN {
		return nil
	}
	return y
}

// ascend calls fn on every node in ascending price order.
func (t *tree) ascend(fn func(*node)) {
	if t.root == t.nilN {
		return
	}
	for x := t.minimum(t.root); x != nil; x = t.successor(x) {
		fn(x)
	}
}
