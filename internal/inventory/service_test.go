package inventory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/commerce-engine/pkg/db"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
)

type harness struct {
	db  *gorm.DB
	svc *Service
}

func newHarness(t *testing.T, reorderLevel int) *harness {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:                NewRepository(conn),
		TxRunner:            dbpkg.NewWithConn(conn),
		Outbox:              outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:              logg,
		DefaultReorderLevel: reorderLevel,
	})
	require.NoError(t, err)
	return &harness{db: conn, svc: svc}
}

func (h *harness) seed(t *testing.T, quantity int) Key {
	t.Helper()
	key := Key{WarehouseID: uuid.New(), ProductID: uuid.New()}
	_, err := h.svc.AddStock(context.Background(), Request{
		Key:       key,
		Quantity:  quantity,
		Reference: Reference{Type: "receipt", ID: "seed"},
	})
	require.NoError(t, err)
	return key
}

func orderRef() Reference {
	return Reference{Type: "order", ID: uuid.NewString()}
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestReserveThenDeductLogsSingleStockOut(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 10)
	ref := orderRef()

	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 5, Reference: ref}))
	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 5, inv.AvailableQuantity())

	ok, err := h.svc.Deduct(ctx, Request{Key: key, Quantity: 5, Reference: ref})
	require.NoError(t, err)
	require.True(t, ok)

	inv, err = h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 5, inv.Quantity)
	require.Equal(t, 0, inv.ReservedQuantity)

	txns, err := h.svc.Transactions(ctx, key)
	require.NoError(t, err)
	var stockOut []models.InventoryTransaction
	for _, txn := range txns {
		if txn.Type == enums.InventoryTxStockOut {
			stockOut = append(stockOut, txn)
		}
	}
	require.Len(t, stockOut, 1)
	require.Equal(t, 10, stockOut[0].BeforeQuantity)
	require.Equal(t, 5, stockOut[0].AfterQuantity)
	require.Equal(t, -5, stockOut[0].Quantity)
	require.NotNil(t, stockOut[0].ReferenceID)
	require.Equal(t, ref.ID, *stockOut[0].ReferenceID)
}

func TestReserveRejectsBeyondAvailable(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 5)

	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 5, Reference: orderRef()}))

	err := h.svc.Reserve(ctx, Request{Key: key, Quantity: 1, Reference: orderRef()})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInsufficientStock))
	require.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))

	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, inv.AvailableQuantity())
	require.Equal(t, 5, inv.ReservedQuantity)
}

func TestReserveUnknownKeyIsInsufficient(t *testing.T) {
	h := newHarness(t, 0)
	err := h.svc.Reserve(context.Background(), Request{
		Key:      Key{WarehouseID: uuid.New(), ProductID: uuid.New()},
		Quantity: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 10)
	ref := orderRef()

	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 5, Reference: ref}))
	ok, err := h.svc.Release(ctx, Request{Key: key, Quantity: 5, Reference: ref})
	require.NoError(t, err)
	require.True(t, ok)

	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 10, inv.Quantity)
	require.Equal(t, 0, inv.ReservedQuantity)
}

func TestReleaseClampsToReserved(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 10)

	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 2}))
	ok, err := h.svc.Release(ctx, Request{Key: key, Quantity: 7})
	require.NoError(t, err)
	require.True(t, ok)

	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, inv.ReservedQuantity)

	ok, err = h.svc.Release(ctx, Request{Key: key, Quantity: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReleaseAndDeductMissingRowReportFalse(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := Key{WarehouseID: uuid.New(), ProductID: uuid.New()}

	ok, err := h.svc.Release(ctx, Request{Key: key, Quantity: 1})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.svc.Deduct(ctx, Request{Key: key, Quantity: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeductChecksCombinedAvailability(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 10)

	// 4 reserved for this order, 2 held by another.
	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 4}))
	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 2}))

	ok, err := h.svc.Deduct(ctx, Request{Key: key, Quantity: 11})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, ok)

	ok, err = h.svc.Deduct(ctx, Request{Key: key, Quantity: 10})
	require.NoError(t, err)
	require.True(t, ok)

	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, inv.Quantity)
	require.Equal(t, 0, inv.ReservedQuantity)
}

func TestDeductWithoutReservationUsesUnreservedStock(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 3)

	ok, err := h.svc.Deduct(ctx, Request{Key: key, Quantity: 2})
	require.NoError(t, err)
	require.True(t, ok)

	inv, err := h.svc.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, inv.Quantity)
}

func TestRejectsNonPositiveQuantity(t *testing.T) {
	h := newHarness(t, 0)
	key := h.seed(t, 3)
	err := h.svc.Reserve(context.Background(), Request{Key: key, Quantity: 0})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestAdjustValidation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	key := h.seed(t, 10)
	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 4}))

	_, err := h.svc.Adjust(ctx, AdjustRequest{Key: key, NewQuantity: 8})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = h.svc.Adjust(ctx, AdjustRequest{Key: key, NewQuantity: 3, Reason: "cycle count"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	inv, err := h.svc.Adjust(ctx, AdjustRequest{Key: key, NewQuantity: 6, Reason: "cycle count", Actor: "ops@example.com"})
	require.NoError(t, err)
	require.Equal(t, 6, inv.Quantity)

	txns, err := h.svc.Transactions(ctx, key)
	require.NoError(t, err)
	last := txns[len(txns)-1]
	require.Equal(t, enums.InventoryOpAdjust, last.Operation)
	require.Equal(t, -4, last.Quantity)
	require.Equal(t, "ops@example.com", last.Actor)
}

func TestLowStockAlertOpensOnceAndResolves(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	key := h.seed(t, 5)

	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 2}))
	require.NoError(t, h.svc.Reserve(ctx, Request{Key: key, Quantity: 1}))

	var alerts []models.LowStockAlert
	require.NoError(t, h.db.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	require.Equal(t, enums.LowStockAlertOpen, alerts[0].Status)
	require.Equal(t, 3, alerts[0].AvailableQuantity)

	var events int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventLowStockAlertOpened).
		Count(&events).Error)
	require.EqualValues(t, 1, events)

	_, err := h.svc.AddStock(ctx, Request{Key: key, Quantity: 10})
	require.NoError(t, err)

	require.NoError(t, h.db.First(&alerts[0], "id = ?", alerts[0].ID).Error)
	require.Equal(t, enums.LowStockAlertResolved, alerts[0].Status)
	require.NotNil(t, alerts[0].ResolvedAt)
}

func TestAddStockCreatesRowWithReorderLevel(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	variant := uuid.New()
	level := 2
	key := Key{WarehouseID: uuid.New(), ProductID: uuid.New(), VariantID: &variant}

	inv, err := h.svc.AddStock(ctx, Request{Key: key, Quantity: 7, ReorderLevel: &level})
	require.NoError(t, err)
	require.Equal(t, 7, inv.Quantity)
	require.Equal(t, 2, inv.ReorderLevel)

	// The same product without a variant is a different row.
	_, err = h.svc.Get(ctx, Key{WarehouseID: key.WarehouseID, ProductID: key.ProductID})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	txns, err := h.svc.Transactions(ctx, key)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, enums.InventoryTxStockIn, txns[0].Type)
	require.Equal(t, "system", txns[0].Actor)
}
