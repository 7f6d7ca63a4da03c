package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Repository persists payments and the applied webhook event ids.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Find(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByExternalIDForUpdate(ctx context.Context, gateway enums.PaymentGateway, externalID string) (*models.Payment, error)
	FindLatestForOrderForUpdate(ctx context.Context, orderID uuid.UUID, gateway enums.PaymentGateway) (*models.Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	ListPendingForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// InsertWebhookEvent reports false when (gateway, event_id) was already recorded.
	InsertWebhookEvent(ctx context.Context, evt *models.WebhookEvent) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) first(q *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	err := q.First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.locked(ctx).Where("id = ?", id))
}

func (r *repository) FindByExternalIDForUpdate(ctx context.Context, gateway enums.PaymentGateway, externalID string) (*models.Payment, error) {
	return r.first(r.locked(ctx).
		Where("gateway = ? AND external_id = ?", gateway, externalID).
		Order("created_at DESC"))
}

func (r *repository) FindLatestForOrderForUpdate(ctx context.Context, orderID uuid.UUID, gateway enums.PaymentGateway) (*models.Payment, error) {
	return r.first(r.locked(ctx).
		Where("order_id = ? AND gateway = ?", orderID, gateway).
		Order("created_at DESC"))
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("idempotency_key = ?", key))
}

func (r *repository) ListPendingForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.locked(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) InsertWebhookEvent(ctx context.Context, evt *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(evt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
