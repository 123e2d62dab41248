package domain

import "sort"

// balanceEpsilon is the single floating-point tolerance used by the account
// model: it bounds how far Unlock and ConsumeLocked may push locked negative
// on rounding error. TryLock applies no tolerance. See
// DESIGN.md for why this repo standardizes on one epsilon instead of the two
// different slack values the historical prototype used.
const balanceEpsilon = 1e-8

// AssetBalance is the free/locked split for one asset.
type AssetBalance struct {
	Balance float64
	Locked  float64
}

// TryLock reserves amount against the asset's free balance. It returns false,
// without mutating anything, if free-locked < amount.
func (b *AssetBalance) TryLock(amount float64) bool {
	if b.Balance >= b.Locked+amount {
		b.Locked += amount
		return true
	}
	return false
}

// Unlock releases a previously locked amount back to free.
func (b *AssetBalance) Unlock(amount float64) {
	if b.Locked+balanceEpsilon < amount {
		panic("domain: unlock amount exceeds locked balance")
	}
	b.Locked -= amount
}

// ConsumeLocked spends a locked amount: it leaves the books (both balance and
// locked shrink). Used when a fill consumes the asset that paid for it.
func (b *AssetBalance) ConsumeLocked(amount float64) {
	if b.Locked-amount <= -balanceEpsilon {
		panic("domain: consume amount exceeds locked balance")
	}
	b.Locked -= amount
	b.Balance -= amount
}

// AddBalance credits the free balance, e.g. a fill's received asset or a fee
// accrual.
func (b *AssetBalance) AddBalance(amount float64) {
	b.Balance += amount
}

// Account is a lazily-populated mapping from asset symbol to balance.
type Account struct {
	balances map[string]*AssetBalance
}

// NewAccount returns an empty account.
func NewAccount() *Account {
	return &Account{balances: make(map[string]*AssetBalance)}
}

// GetOrCreate returns the balance for asset, creating a zero balance on
// first reference.
func (a *Account) GetOrCreate(asset string) *AssetBalance {
	if a.balances == nil {
		a.balances = make(map[string]*AssetBalance)
	}
	b, ok := a.balances[asset]
	if !ok {
		b = &AssetBalance{}
		a.balances[asset] = b
	}
	return b
}

// Get returns the balance for asset without creating it, reporting false for
// an asset never referenced.
func (a *Account) Get(asset string) (AssetBalance, bool) {
	b, ok := a.balances[asset]
	if !ok {
		return AssetBalance{}, false
	}
	return *b, true
}

// Assets returns every asset symbol the account has ever touched. Order is
// unspecified.
func (a *Account) Assets() []string {
	out := make([]string, 0, len(a.balances))
	for asset := range a.balances {
		out = append(out, asset)
	}
	return out
}

// Snapshot builds an AccountUpdate covering every asset held, with assets
// ordered by name: map iteration order is randomized per run, and a periodic
// full-account summary must publish an identical message across replays of
// the same tape.
func (a *Account) Snapshot() AccountUpdate {
	assets := make([]string, 0, len(a.balances))
	for asset := range a.balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	updates := make([]AssetUpdate, 0, len(assets))
	for _, asset := range assets {
		b := a.balances[asset]
		updates = append(updates, AssetUpdate{Asset: asset, Balance: b.Balance, Locked: b.Locked})
	}
	return AccountUpdate{Updates: updates}
}

// SnapshotAssets builds an AccountUpdate covering only the named assets,
// reporting a zero balance for any asset never referenced.
func (a *Account) SnapshotAssets(assets ...string) AccountUpdate {
	updates := make([]AssetUpdate, 0, len(assets))
	for _, asset := range assets {
		b, _ := a.Get(asset)
		updates = append(updates, AssetUpdate{Asset: asset, Balance: b.Balance, Locked: b.Locked})
	}
	return AccountUpdate{Updates: updates}
}
