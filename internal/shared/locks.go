package shared

import "fmt"

// LedgerLockKey names the single-writer key for a (store, product) ledger.
func LedgerLockKey(storeID, productID int64) string {
	return fmt.Sprintf("stock:ledger:%d:%d", storeID, productID)
}

// StatsVersionKey names the redis key holding the stats cache version of a store.
func StatsVersionKey(storeID int64) string {
	return fmt.Sprintf("stock:stats:%d:version", storeID)
}
