package engine

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertRedBlackInvariants checks the three red-black properties plus
// strictly increasing in-order keys.
func assertRedBlackInvariants(t *testing.T, tree *priceTree) {
	t.Helper()

	if tree.root == tree.nil_ {
		return
	}
	require.Equal(t, black, tree.root.color, "root must be black")

	var blackHeight func(n *treeNode) int
	blackHeight = func(n *treeNode) int {
		if n == tree.nil_ {
			return 1
		}
		if n.color == red {
			require.Equal(t, black, n.left.color, "red node %s has red left child", n.key)
			require.Equal(t, black, n.right.color, "red node %s has red right child", n.key)
		}
		lh := blackHeight(n.left)
		rh := blackHeight(n.right)
		require.Equal(t, lh, rh, "unequal black height under %s", n.key)
		if n.color == black {
			return lh + 1
		}
		return lh
	}
	blackHeight(tree.root)

	var keys []decimal.Decimal
	tree.ascend(func(lvl *levelQueue) bool {
		keys = append(keys, lvl.price)
		return true
	})
	for i := 1; i < len(keys); i++ {
		require.True(t, keys[i-1].LessThan(keys[i]), "in-order keys not strictly increasing")
	}
}

func TestPriceTree_BasicOperations(t *testing.T) {
	tree := newPriceTree()

	assert.Nil(t, tree.min())
	assert.Nil(t, tree.max())
	assert.Equal(t, 0, tree.count())

	lvl10 := tree.upsert(decimal.NewFromInt(10))
	require.NotNil(t, lvl10)
	lvl20 := tree.upsert(decimal.NewFromInt(20))
	lvl5 := tree.upsert(decimal.NewFromInt(5))

	assert.Equal(t, 3, tree.count())
	assert.True(t, tree.exists(decimal.NewFromInt(10)))
	assert.False(t, tree.exists(decimal.NewFromInt(15)))

	// Inserting an existing price returns the same level.
	again := tree.upsert(decimal.NewFromInt(10))
	assert.Same(t, lvl10, again)
	assert.Equal(t, 3, tree.count())

	assert.Same(t, lvl5, tree.min())
	assert.Same(t, lvl20, tree.max())
	assert.Same(t, lvl10, tree.find(decimal.NewFromInt(10)))
	assert.Nil(t, tree.find(decimal.NewFromInt(99)))

	assertRedBlackInvariants(t, tree)
}

func TestPriceTree_RemoveNotFound(t *testing.T) {
	tree := newPriceTree()
	tree.upsert(decimal.NewFromInt(10))

	err := tree.remove(decimal.NewFromInt(11))
	assert.ErrorIs(t, err, errPriceNotFound)

	require.NoError(t, tree.remove(decimal.NewFromInt(10)))
	assert.Equal(t, 0, tree.count())

	err = tree.remove(decimal.NewFromInt(10))
	assert.ErrorIs(t, err, errPriceNotFound)
}

func TestPriceTree_SuccessorPredecessor(t *testing.T) {
	tree := newPriceTree()
	for _, p := range []int64{10, 20, 30, 40, 50} {
		tree.upsert(decimal.NewFromInt(p))
	}

	succ := tree.successor(decimal.NewFromInt(20))
	require.NotNil(t, succ)
	assert.Equal(t, "30", succ.price.String())

	pred := tree.predecessor(decimal.NewFromInt(20))
	require.NotNil(t, pred)
	assert.Equal(t, "10", pred.price.String())

	assert.Nil(t, tree.successor(decimal.NewFromInt(50)))
	assert.Nil(t, tree.predecessor(decimal.NewFromInt(10)))

	// Works for keys between levels too.
	succ = tree.successor(decimal.NewFromInt(25))
	require.NotNil(t, succ)
	assert.Equal(t, "30", succ.price.String())
}

func TestPriceTree_AscendingInsert(t *testing.T) {
	tree := newPriceTree()
	for i := int64(1); i <= 64; i++ {
		tree.upsert(decimal.NewFromInt(i))
		assertRedBlackInvariants(t, tree)
	}
	assert.Equal(t, 64, tree.count())
	assert.Equal(t, "1", tree.min().price.String())
	assert.Equal(t, "64", tree.max().price.String())
}

func TestPriceTree_DescendingInsert(t *testing.T) {
	tree := newPriceTree()
	for i := int64(64); i >= 1; i-- {
		tree.upsert(decimal.NewFromInt(i))
		assertRedBlackInvariants(t, tree)
	}
	assert.Equal(t, 64, tree.count())
	assert.Equal(t, "1", tree.min().price.String())
}

func TestPriceTree_OracleTest(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := newPriceTree()
	oracle := make(map[int64]bool)

	for i := 0; i < 5000; i++ {
		p := rng.Int63n(500) + 1
		price := decimal.NewFromInt(p)

		if rng.Intn(2) == 0 {
			tree.upsert(price)
			oracle[p] = true
		} else {
			err := tree.remove(price)
			if oracle[p] {
				assert.NoError(t, err)
				delete(oracle, p)
			} else {
				assert.ErrorIs(t, err, errPriceNotFound)
			}
		}

		if i%250 == 0 {
			assertRedBlackInvariants(t, tree)
		}
	}
	assertRedBlackInvariants(t, tree)

	require.Equal(t, len(oracle), tree.count())

	want := make([]int64, 0, len(oracle))
	for p := range oracle {
		want = append(want, p)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	got := make([]int64, 0, tree.count())
	tree.ascend(func(lvl *levelQueue) bool {
		got = append(got, lvl.price.IntPart())
		return true
	})
	assert.Equal(t, want, got)
}

func TestPriceTree_DescendOrder(t *testing.T) {
	tree := newPriceTree()
	for _, p := range []int64{30, 10, 50, 20, 40} {
		tree.upsert(decimal.NewFromInt(p))
	}

	var got []string
	tree.descend(func(lvl *levelQueue) bool {
		got = append(got, lvl.price.String())
		return true
	})
	assert.Equal(t, []string{"50", "40", "30", "20", "10"}, got)
}

func TestPriceTree_EqualValueDifferentExponent(t *testing.T) {
	tree := newPriceTree()

	// 10 and 10.0 and 1e1 are the same price regardless of representation.
	a := decimal.NewFromInt(10)
	b := decimal.New(100, -1)
	c := decimal.New(1, 1)

	lvl := tree.upsert(a)
	assert.Same(t, lvl, tree.upsert(b))
	assert.Same(t, lvl, tree.find(c))
	assert.Equal(t, 1, tree.count())
}
