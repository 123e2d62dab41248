package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetBalance_TryLockRespectsFree(t *testing.T) {
	b := &AssetBalance{Balance: 100}
	assert.True(t, b.TryLock(60))
	assert.Equal(t, 60.0, b.Locked)
	assert.False(t, b.TryLock(50)) // only 40 free left
	assert.Equal(t, 60.0, b.Locked)
}

func TestAssetBalance_UnlockRestoresFree(t *testing.T) {
	b := &AssetBalance{Balance: 100}
	b.TryLock(40)
	b.Unlock(40)
	assert.Equal(t, 0.0, b.Locked)
	assert.Equal(t, 100.0, b.Balance)
}

func TestAssetBalance_ConsumeLockedReducesBoth(t *testing.T) {
	b := &AssetBalance{Balance: 100}
	b.TryLock(40)
	b.ConsumeLocked(40)
	assert.Equal(t, 0.0, b.Locked)
	assert.Equal(t, 60.0, b.Balance)
}

func TestAccount_GetOrCreateLazy(t *testing.T) {
	a := NewAccount()
	_, ok := a.Get("USDT")
	assert.False(t, ok)

	a.GetOrCreate("USDT").AddBalance(10000)
	b, ok := a.Get("USDT")
	assert.True(t, ok)
	assert.Equal(t, 10000.0, b.Balance)
}

func TestAccount_SnapshotAssetsReportsZeroForUntouched(t *testing.T) {
	a := NewAccount()
	a.GetOrCreate("USDT").AddBalance(500)

	snap := a.SnapshotAssets("USDT", "BTC")
	assert.Len(t, snap.Updates, 2)
	assert.Equal(t, 500.0, snap.Updates[0].Balance)
	assert.Equal(t, 0.0, snap.Updates[1].Balance)
}

// TestAccount_SnapshotOrdersAssetsByNameRegardlessOfInsertionOrder: Snapshot
// must publish the same AccountUpdate regardless of the order assets were
// first referenced in, since Go map iteration order is randomized per run and
// replaying the same tape must publish identical messages.
func TestAccount_SnapshotOrdersAssetsByNameRegardlessOfInsertionOrder(t *testing.T) {
	forward := NewAccount()
	forward.GetOrCreate("BTC").AddBalance(1)
	forward.GetOrCreate("ETH").AddBalance(2)
	forward.GetOrCreate("USDT").AddBalance(3)

	reverse := NewAccount()
	reverse.GetOrCreate("USDT").AddBalance(3)
	reverse.GetOrCreate("ETH").AddBalance(2)
	reverse.GetOrCreate("BTC").AddBalance(1)

	fwdSnap := forward.Snapshot()
	revSnap := reverse.Snapshot()

	require.Equal(t, fwdSnap, revSnap)
	require.Len(t, fwdSnap.Updates, 3)
	assert.Equal(t, "BTC", fwdSnap.Updates[0].Asset)
	assert.Equal(t, "ETH", fwdSnap.Updates[1].Asset)
	assert.Equal(t, "USDT", fwdSnap.Updates[2].Asset)
}
