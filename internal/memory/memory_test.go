package memory

import (
	"testing"

	"deposit-convert-go/internal/store"
	"deposit-convert-go/internal/store/storetest"
)

func TestDepositStore(t *testing.T) {
	storetest.RunDepositStoreTests(t, func(t *testing.T) store.DepositStore {
		return NewDepositStore()
	})
}

func TestLedger(t *testing.T) {
	storetest.RunLedgerTests(t, func(t *testing.T) store.Ledger {
		return NewLedger()
	})
}
