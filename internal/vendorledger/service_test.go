package vendorledger

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:vendorledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	svc, err := NewService(NewRepository(conn), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc, conn
}

func TestPostSaleAndCommissionBalanceIsNet(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	vendor := uuid.New()
	payment := uuid.New()

	_, created, err := svc.Post(ctx, conn, PostInput{
		VendorID:     vendor,
		Type:         enums.LedgerSaleCredit,
		AmountCents:  11700,
		Currency:     enums.CurrencyBDT,
		ReferenceKey: SaleCreditKey(payment, vendor),
		PaymentID:    &payment,
	})
	require.NoError(t, err)
	require.True(t, created)

	commission, _, err := svc.Post(ctx, conn, PostInput{
		VendorID:     vendor,
		Type:         enums.LedgerCommissionDebit,
		AmountCents:  -1300,
		Currency:     enums.CurrencyBDT,
		ReferenceKey: CommissionKey(payment, vendor),
		PaymentID:    &payment,
	})
	require.NoError(t, err)
	require.True(t, commission.Informational)

	balance, err := svc.Balance(ctx, vendor)
	require.NoError(t, err)
	require.EqualValues(t, 11700, balance)

	entries, err := svc.Entries(ctx, vendor, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPostReplayReturnsExistingEntry(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	vendor := uuid.New()
	payout := uuid.New()
	input := PostInput{
		VendorID:     vendor,
		Type:         enums.LedgerPayoutDebit,
		AmountCents:  -600,
		Currency:     enums.CurrencyUSD,
		ReferenceKey: PayoutDebitKey(payout),
		PayoutID:     &payout,
	}

	first, created, err := svc.Post(ctx, conn, input)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := svc.Post(ctx, conn, input)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	input.AmountCents = -700
	_, _, err = svc.Post(ctx, conn, input)
	require.Equal(t, pkgerrors.CodeIntegrity, pkgerrors.CodeOf(err))

	balance, err := svc.Balance(ctx, vendor)
	require.NoError(t, err)
	require.EqualValues(t, -600, balance)
}

func TestPostRejectsWrongSign(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	vendor := uuid.New()

	cases := []PostInput{
		{VendorID: vendor, Type: enums.LedgerSaleCredit, AmountCents: -1, Currency: enums.CurrencyUSD, ReferenceKey: "a"},
		{VendorID: vendor, Type: enums.LedgerRefundDebit, AmountCents: 5, Currency: enums.CurrencyUSD, ReferenceKey: "b"},
		{VendorID: vendor, Type: enums.LedgerPayoutDebitReversal, AmountCents: 0, Currency: enums.CurrencyUSD, ReferenceKey: "c"},
		{VendorID: vendor, Type: enums.LedgerSaleCredit, AmountCents: 5, Currency: enums.CurrencyUSD},
		{Type: enums.LedgerSaleCredit, AmountCents: 5, Currency: enums.CurrencyUSD, ReferenceKey: "d"},
	}
	for _, input := range cases {
		_, _, err := svc.Post(ctx, conn, input)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "input %+v", input)
	}
}

func TestPayoutReversalRestoresBalance(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	vendor := uuid.New()
	payout := uuid.New()

	for _, input := range []PostInput{
		{VendorID: vendor, Type: enums.LedgerSaleCredit, AmountCents: 600, ReferenceKey: "sale"},
		{VendorID: vendor, Type: enums.LedgerPayoutDebit, AmountCents: -600, ReferenceKey: PayoutDebitKey(payout), PayoutID: &payout},
		{VendorID: vendor, Type: enums.LedgerPayoutDebitReversal, AmountCents: 600, ReferenceKey: PayoutReversalKey(payout), PayoutID: &payout},
	} {
		input.Currency = enums.CurrencyUSD
		_, _, err := svc.Post(ctx, conn, input)
		require.NoError(t, err)
	}

	balance, err := svc.Balance(ctx, vendor)
	require.NoError(t, err)
	require.EqualValues(t, 600, balance)
}
