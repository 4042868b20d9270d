package enums

import "fmt"

// WalletTransactionKind is the semantic reason behind a wallet ledger entry.
type WalletTransactionKind string

const (
	WalletTransactionKindCommissionCredit   WalletTransactionKind = "commission_credit"
	WalletTransactionKindCommissionReversal WalletTransactionKind = "commission_reversal"
	WalletTransactionKindWithdrawalHold     WalletTransactionKind = "withdrawal_hold"
	WalletTransactionKindWithdrawalRelease  WalletTransactionKind = "withdrawal_release"
	WalletTransactionKindWithdrawalPayout   WalletTransactionKind = "withdrawal_payout"
)

var validWalletTransactionKinds = []WalletTransactionKind{
	WalletTransactionKindCommissionCredit,
	WalletTransactionKindCommissionReversal,
	WalletTransactionKindWithdrawalHold,
	WalletTransactionKindWithdrawalRelease,
	WalletTransactionKindWithdrawalPayout,
}

// String implements fmt.Stringer.
func (v WalletTransactionKind) String() string {
	return string(v)
}

// IsValid reports whether the value is a known WalletTransactionKind.
func (v WalletTransactionKind) IsValid() bool {
	for _, candidate := range validWalletTransactionKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseWalletTransactionKind converts raw input into a WalletTransactionKind.
func ParseWalletTransactionKind(value string) (WalletTransactionKind, error) {
	for _, candidate := range validWalletTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction kind %q", value)
}

// Type returns the direction of the balance movement the kind records.
func (v WalletTransactionKind) Type() WalletTransactionType {
	switch v {
	case WalletTransactionKindCommissionCredit, WalletTransactionKindWithdrawalRelease:
		return WalletTransactionTypeCredit
	default:
		return WalletTransactionTypeDebit
	}
}
