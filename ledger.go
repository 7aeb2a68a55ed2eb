package engine

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is the settlement collaborator. It moves already-custodied balances
// between accounts; the engine computes every amount and fee itself and
// derives the asset from the order side. Any error aborts the whole submit
// or cancel call with no book mutation.
type Ledger interface {
	// Transfer moves amount of asset from one account to another.
	Transfer(asset, from, to string, amount decimal.Decimal) error

	// TransferFee skims amount of asset from the account into the ledger's
	// fee sink.
	TransferFee(asset, from string, amount decimal.Decimal) error
}

// MemoryLedger is an in-memory Ledger, useful for testing. Balances must be
// funded with Deposit before they can be transferred.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal // asset -> account -> balance
	fees     map[string]decimal.Decimal            // asset -> accrued fees
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]map[string]decimal.Decimal),
		fees:     make(map[string]decimal.Decimal),
	}
}

// Deposit credits an account. Test setup only; there is no withdrawal.
func (l *MemoryLedger) Deposit(asset, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

// Balance returns the current balance of an account.
func (l *MemoryLedger) Balance(asset, account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if accounts, ok := l.balances[asset]; ok {
		if bal, ok := accounts[account]; ok {
			return bal
		}
	}
	return decimal.Zero
}

// Fees returns the accrued fee balance for an asset.
func (l *MemoryLedger) Fees(asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.fees[asset]; ok {
		return f
	}
	return decimal.Zero
}

func (l *MemoryLedger) Transfer(asset, from, to string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.credit(asset, to, amount)
	return nil
}

func (l *MemoryLedger) TransferFee(asset, from string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.fees[asset] = l.fees[asset].Add(amount)
	return nil
}

func (l *MemoryLedger) credit(asset, account string, amount decimal.Decimal) {
	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[string]decimal.Decimal)
		l.balances[asset] = accounts
	}
	accounts[account] = accounts[account].Add(amount)
}

func (l *MemoryLedger) debit(asset, account string, amount decimal.Decimal) error {
	accounts, ok := l.balances[asset]
	if !ok {
		return ErrInsufficientFunds
	}
	bal := accounts[account]
	if bal.LessThan(amount) {
		return ErrInsufficientFunds
	}
	accounts[account] = bal.Sub(amount)
	return nil
}
