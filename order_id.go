package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// newOrderID derives an order id from the order's content plus a
// per-instrument nonce. The nonce makes the id unique across the lifetime of
// the book even when the same owner resubmits the same price and side, so a
// removed id is never reused for a different order.
func newOrderID(pair, owner string, side Side, price decimal.Decimal, nonce uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%d", pair, owner, side, price.String(), nonce)
	return hex.EncodeToString(h.Sum(nil)[:16])
}
