package engine

// ownerRegistry tracks the open order ids of each owner. Removal swaps the
// target with the last element and pops, with a side index map keeping
// index[ids[i]] == i, so removal is O(1) regardless of position. The slice
// order is therefore arbitrary and callers must not read meaning into it.
type ownerRegistry struct {
	ids   map[string][]string
	index map[string]map[string]int
}

func newOwnerRegistry() *ownerRegistry {
	return &ownerRegistry{
		ids:   make(map[string][]string),
		index: make(map[string]map[string]int),
	}
}

func (r *ownerRegistry) add(owner, id string) {
	idx, ok := r.index[owner]
	if !ok {
		idx = make(map[string]int)
		r.index[owner] = idx
	}
	idx[id] = len(r.ids[owner])
	r.ids[owner] = append(r.ids[owner], id)
}

func (r *ownerRegistry) remove(owner, id string) error {
	idx, ok := r.index[owner]
	if !ok {
		return ErrOrderNotFound
	}
	pos, ok := idx[id]
	if !ok {
		return ErrOrderNotFound
	}

	ids := r.ids[owner]
	last := len(ids) - 1
	if pos != last {
		moved := ids[last]
		ids[pos] = moved
		idx[moved] = pos
	}
	r.ids[owner] = ids[:last]
	delete(idx, id)

	if len(idx) == 0 {
		delete(r.index, owner)
		delete(r.ids, owner)
	}
	return nil
}

// ordersOf returns a copy of the owner's open order ids, in no particular
// order.
func (r *ownerRegistry) ordersOf(owner string) []string {
	ids := r.ids[owner]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (r *ownerRegistry) count(owner string) int {
	return len(r.ids[owner])
}
