package engine

// orderTable is the id -> order store and the single source of truth for
// order fields. Book sides and the owner registry hold ids and placement
// only; every mutation of an order record goes through the one *Order kept
// here.
type orderTable struct {
	orders map[string]*Order
}

func newOrderTable() *orderTable {
	return &orderTable{orders: make(map[string]*Order)}
}

func (t *orderTable) create(o *Order) error {
	if _, ok := t.orders[o.ID]; ok {
		return ErrOrderIDExists
	}
	t.orders[o.ID] = o
	return nil
}

func (t *orderTable) get(id string) (*Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (t *orderTable) remove(id string) error {
	if _, ok := t.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(t.orders, id)
	return nil
}

func (t *orderTable) exists(id string) bool {
	_, ok := t.orders[id]
	return ok
}

func (t *orderTable) size() int {
	return len(t.orders)
}
