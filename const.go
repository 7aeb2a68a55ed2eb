package engine

import "github.com/shopspring/decimal"

const (
	// EngineVersion is the current version of the matching engine
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1

	// DefaultMatchCap bounds the number of resting orders a single submit
	// call may consume. It bounds worst-case per-call work; it is not a
	// correctness mechanism.
	DefaultMatchCap = 1500

	defaultCommandBuffer = 32768
)

// Precision is the shared fixed-point denominator: every price, quantity and
// amount in the system is an integer scaled by 1e18. Quote amounts are
// quantity * price / Precision with integer division truncated toward zero.
var Precision = decimal.New(1, 18)

// feeDenominator converts basis points to a fraction (100 bps = 1%).
var feeDenominator = decimal.NewFromInt(10000)
