package enums

import "fmt"

// LedgerEntryType tags a signed vendor ledger amount.
type LedgerEntryType string

const (
	LedgerSaleCredit          LedgerEntryType = "sale_credit"
	LedgerCommissionDebit     LedgerEntryType = "commission_debit"
	LedgerRefundDebit         LedgerEntryType = "refund_debit"
	LedgerPayoutDebit         LedgerEntryType = "payout_debit"
	LedgerPayoutDebitReversal LedgerEntryType = "payout_debit_reversal"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerSaleCredit,
	LedgerCommissionDebit,
	LedgerRefundDebit,
	LedgerPayoutDebit,
	LedgerPayoutDebitReversal,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this type must carry a positive amount.
func (t LedgerEntryType) IsCredit() bool {
	return t == LedgerSaleCredit || t == LedgerPayoutDebitReversal
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
