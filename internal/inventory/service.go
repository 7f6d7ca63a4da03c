package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/outbox/payloads"
)

const defaultActor = "system"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Reference ties a mutation to the business object that caused it.
type Reference struct {
	Type string
	ID   string
}

// Request describes one stock mutation.
type Request struct {
	Key
	Quantity  int
	Reference Reference
	Actor     string
	Reason    string
	// ReorderLevel applies only when AddStock creates the row.
	ReorderLevel *int
}

// AdjustRequest sets on-hand stock to an absolute value.
type AdjustRequest struct {
	Key
	NewQuantity int
	Reason      string
	Actor       string
}

type ServiceParams struct {
	Repo                Repository
	TxRunner            txRunner
	Outbox              eventEmitter
	Logger              *logger.Logger
	DefaultReorderLevel int
}

// Service is the inventory ledger. Every mutation locks the row, writes one
// transaction log entry and re-evaluates the low-stock alert in one transaction.
type Service struct {
	repo         Repository
	tx           txRunner
	outbox       eventEmitter
	logg         *logger.Logger
	reorderLevel int
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory repository required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:         params.Repo,
		tx:           params.TxRunner,
		outbox:       params.Outbox,
		logg:         params.Logger,
		reorderLevel: params.DefaultReorderLevel,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the row for key.
func (s *Service) Get(ctx context.Context, key Key) (*models.Inventory, error) {
	inv, err := s.repo.Find(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	if inv == nil {
		return nil, notFound(key)
	}
	return inv, nil
}

// Transactions lists the audit log for key, oldest first.
func (s *Service) Transactions(ctx context.Context, key Key) ([]models.InventoryTransaction, error) {
	inv, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, inv.ID)
}

// Reserve holds quantity against available stock.
func (s *Service) Reserve(ctx context.Context, req Request) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ReserveTx(ctx, tx, req)
	})
}

// ReserveTx is Reserve inside the caller's transaction.
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, req Request) error {
	if err := validateQuantity(req.Quantity); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	inv, err := repo.FindForUpdate(ctx, req.Key)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock inventory")
	}
	if inv == nil {
		return insufficient(req.Key, req.Quantity, 0)
	}
	if available := inv.AvailableQuantity(); available < req.Quantity {
		return insufficient(req.Key, req.Quantity, available)
	}

	before := *inv
	inv.ReservedQuantity += req.Quantity
	return s.commit(ctx, tx, repo, before, inv, enums.InventoryOpReserve, req.Quantity, req.Reference, req.Actor, req.Reason)
}

// Release hands reserved stock back. It reports false when there is no row or
// nothing reserved; both are expected under concurrent changes.
func (s *Service) Release(ctx context.Context, req Request) (bool, error) {
	var released bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		released, err = s.ReleaseTx(ctx, tx, req)
		return err
	})
	return released, err
}

// ReleaseTx is Release inside the caller's transaction.
func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, req Request) (bool, error) {
	if err := validateQuantity(req.Quantity); err != nil {
		return false, err
	}
	repo := s.repo.WithTx(tx)
	inv, err := repo.FindForUpdate(ctx, req.Key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock inventory")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"inventory_key":  req.Key.String(),
		"reference_type": req.Reference.Type,
		"reference_id":   req.Reference.ID,
		"quantity":       req.Quantity,
	})
	if inv == nil {
		s.logg.Warn(logCtx, "release skipped: inventory not found")
		return false, nil
	}
	if inv.ReservedQuantity == 0 {
		s.logg.Warn(logCtx, "release skipped: nothing reserved")
		return false, nil
	}

	qty := req.Quantity
	if qty > inv.ReservedQuantity {
		s.logg.Warn(s.logg.WithField(logCtx, "reserved_quantity", inv.ReservedQuantity), "release clamped to reserved quantity")
		qty = inv.ReservedQuantity
	}

	before := *inv
	inv.ReservedQuantity -= qty
	if err := s.commit(ctx, tx, repo, before, inv, enums.InventoryOpRelease, -qty, req.Reference, req.Actor, req.Reason); err != nil {
		return false, err
	}
	return true, nil
}

// Deduct removes sold stock, consuming the reservation first. Any remainder must
// fit in unreserved stock; otherwise nothing changes and ErrInsufficientStock is returned.
func (s *Service) Deduct(ctx context.Context, req Request) (bool, error) {
	var deducted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deducted, err = s.DeductTx(ctx, tx, req)
		return err
	})
	return deducted, err
}

// DeductTx is Deduct inside the caller's transaction. A missing row reports false.
func (s *Service) DeductTx(ctx context.Context, tx *gorm.DB, req Request) (bool, error) {
	if err := validateQuantity(req.Quantity); err != nil {
		return false, err
	}
	repo := s.repo.WithTx(tx)
	inv, err := repo.FindForUpdate(ctx, req.Key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock inventory")
	}
	if inv == nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"inventory_key":  req.Key.String(),
			"reference_type": req.Reference.Type,
			"reference_id":   req.Reference.ID,
		}), "deduct skipped: inventory not found")
		return false, nil
	}

	fromReserved := min(req.Quantity, inv.ReservedQuantity)
	fromUnreserved := req.Quantity - fromReserved
	if fromUnreserved > inv.AvailableQuantity() {
		return false, insufficient(req.Key, req.Quantity, inv.ReservedQuantity+inv.AvailableQuantity())
	}

	before := *inv
	inv.ReservedQuantity -= fromReserved
	inv.Quantity -= req.Quantity
	if err := s.commit(ctx, tx, repo, before, inv, enums.InventoryOpDeduct, -req.Quantity, req.Reference, req.Actor, req.Reason); err != nil {
		return false, err
	}
	return true, nil
}

// AddStock receives stock, creating the row on first receipt.
func (s *Service) AddStock(ctx context.Context, req Request) (*models.Inventory, error) {
	var out *models.Inventory
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.AddStockTx(ctx, tx, req)
		return err
	})
	return out, err
}

// AddStockTx is AddStock inside the caller's transaction.
func (s *Service) AddStockTx(ctx context.Context, tx *gorm.DB, req Request) (*models.Inventory, error) {
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	inv, err := s.lockOrCreate(ctx, repo, req.Key, req.ReorderLevel)
	if err != nil {
		return nil, err
	}
	before := *inv
	inv.Quantity += req.Quantity
	if err := s.commit(ctx, tx, repo, before, inv, enums.InventoryOpAddStock, req.Quantity, req.Reference, req.Actor, req.Reason); err != nil {
		return nil, err
	}
	return inv, nil
}

// Adjust is a manual correction to an absolute on-hand quantity. It may not drop
// below what is currently reserved.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*models.Inventory, error) {
	if req.NewQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new quantity must not be negative")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}

	var out *models.Inventory
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		inv, err := s.lockOrCreate(ctx, repo, req.Key, nil)
		if err != nil {
			return err
		}
		if req.NewQuantity < inv.ReservedQuantity {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("quantity %d is below reserved quantity %d", req.NewQuantity, inv.ReservedQuantity))
		}
		before := *inv
		inv.Quantity = req.NewQuantity
		delta := req.NewQuantity - before.Quantity
		ref := Reference{Type: "manual_adjustment"}
		if err := s.commit(ctx, tx, repo, before, inv, enums.InventoryOpAdjust, delta, ref, req.Actor, reason); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

func (s *Service) lockOrCreate(ctx context.Context, repo Repository, key Key, reorderLevel *int) (*models.Inventory, error) {
	inv, err := repo.FindForUpdate(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock inventory")
	}
	if inv != nil {
		return inv, nil
	}
	level := s.reorderLevel
	if reorderLevel != nil {
		if *reorderLevel < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reorder level must not be negative")
		}
		level = *reorderLevel
	}
	inv = &models.Inventory{
		WarehouseID:  key.WarehouseID,
		ProductID:    key.ProductID,
		VariantID:    key.VariantID,
		ReorderLevel: level,
	}
	if err := repo.Create(ctx, inv); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory")
	}
	return inv, nil
}

// commit persists the new quantities, appends the log row and re-evaluates the alert.
// delta is signed: the reserved change for reserve/release, the on-hand change otherwise.
func (s *Service) commit(ctx context.Context, tx *gorm.DB, repo Repository, before models.Inventory, after *models.Inventory, op enums.InventoryOperation, delta int, ref Reference, actor, reason string) error {
	if after.ReservedQuantity < 0 || after.ReservedQuantity > after.Quantity {
		return pkgerrors.New(pkgerrors.CodeIntegrity, fmt.Sprintf("inventory %s would break reserved bounds", after.ID))
	}
	if err := repo.UpdateQuantities(ctx, after); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update inventory")
	}

	if strings.TrimSpace(actor) == "" {
		actor = defaultActor
	}
	txn := &models.InventoryTransaction{
		InventoryID:    after.ID,
		Operation:      op,
		Type:           op.TransactionType(),
		Quantity:       delta,
		BeforeQuantity: before.Quantity,
		AfterQuantity:  after.Quantity,
		ReservedBefore: before.ReservedQuantity,
		ReservedAfter:  after.ReservedQuantity,
		ReferenceType:  optional(ref.Type),
		ReferenceID:    optional(ref.ID),
		Actor:          actor,
		Reason:         optional(reason),
	}
	if err := repo.InsertTransaction(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert inventory transaction")
	}

	return s.evaluateLowStock(ctx, tx, repo, after)
}

func (s *Service) evaluateLowStock(ctx context.Context, tx *gorm.DB, repo Repository, inv *models.Inventory) error {
	open, err := repo.FindOpenAlert(ctx, inv.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load low stock alert")
	}

	available := inv.AvailableQuantity()
	if available > inv.ReorderLevel {
		if open == nil {
			return nil
		}
		if err := repo.ResolveAlert(ctx, open.ID, s.now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve low stock alert")
		}
		return nil
	}
	if open != nil {
		return nil
	}

	alert := &models.LowStockAlert{
		InventoryID:       inv.ID,
		WarehouseID:       inv.WarehouseID,
		ProductID:         inv.ProductID,
		VariantID:         inv.VariantID,
		AvailableQuantity: available,
		ReorderLevel:      inv.ReorderLevel,
		Status:            enums.LowStockAlertOpen,
	}
	if err := repo.CreateAlert(ctx, alert); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create low stock alert")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"inventory_id":       inv.ID.String(),
		"available_quantity": available,
		"reorder_level":      inv.ReorderLevel,
	}), "low stock alert opened")
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLowStockAlertOpened,
		AggregateType: enums.AggregateInventory,
		AggregateID:   inv.ID,
		Actor:         outbox.ActorSystem,
		Data: payloads.LowStockAlertEvent{
			AlertID:           alert.ID,
			InventoryID:       inv.ID,
			WarehouseID:       inv.WarehouseID,
			ProductID:         inv.ProductID,
			VariantID:         inv.VariantID,
			AvailableQuantity: available,
			ReorderLevel:      inv.ReorderLevel,
		},
	})
}

func validateQuantity(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
