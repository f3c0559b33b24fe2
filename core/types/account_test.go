package types

import (
	"math/big"
	"testing"
)

func TestAccountCreditDebit(t *testing.T) {
	account := NewAccount("alice")

	if account.Balance("USDC").Sign() != 0 {
		t.Fatalf("expected zero balance for fresh account")
	}

	account.Credit("USDC", big.NewInt(100))
	account.Credit("USDC", big.NewInt(50))
	if account.Balance("USDC").Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected balance: %s", account.Balance("USDC"))
	}

	if account.Debit("USDC", big.NewInt(200)) {
		t.Fatalf("overdraft permitted")
	}
	if !account.Debit("USDC", big.NewInt(150)) {
		t.Fatalf("full debit rejected")
	}
	if _, ok := account.Balances["USDC"]; ok {
		t.Fatalf("zero balance entry not pruned")
	}

	// Negative and nil amounts are ignored.
	account.Credit("USDC", big.NewInt(-10))
	account.Credit("USDC", nil)
	if account.Balance("USDC").Sign() != 0 {
		t.Fatalf("negative credit applied")
	}
}

func TestAccountBalanceReturnsCopy(t *testing.T) {
	account := NewAccount("alice")
	account.Credit("ETH", big.NewInt(5))

	balance := account.Balance("ETH")
	balance.SetInt64(999)

	if account.Balance("ETH").Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("balance aliased internal state")
	}
}

func TestAccountClone(t *testing.T) {
	account := NewAccount("alice")
	account.Credit("ETH", big.NewInt(7))

	clone := account.Clone()
	clone.Credit("ETH", big.NewInt(3))

	if account.Balance("ETH").Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("clone mutated original")
	}
	if clone.Balance("ETH").Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone balance wrong: %s", clone.Balance("ETH"))
	}
}
