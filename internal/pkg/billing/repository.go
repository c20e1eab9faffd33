package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// LedgerStore persists ledger entries. External ids are unique at schema level.
type LedgerStore interface {
	FindLedgerEntry(ctx context.Context, externalID string) (*models.LedgerEntry, error)
	CreateLedgerEntryIfNotExists(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	ListLedgerEntriesByEmail(ctx context.Context, email string) ([]models.LedgerEntry, error)
	ListEmailsWithDuplicateLedgerEntries(ctx context.Context) ([]string, error)
	DeleteLedgerEntries(ctx context.Context, ids []uint) (int64, error)
}

// EntitlementStore reads users and writes their premium columns.
type EntitlementStore interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SaveEntitlement(ctx context.Context, userID uint, e models.Entitlement) error
	SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) error
}

// WebhookEventStore records verified gateway events.
type WebhookEventStore interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

// Repository provides DB operations used by the billing service.
type Repository interface {
	LedgerStore
	EntitlementStore
	WebhookEventStore
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindLedgerEntry(ctx context.Context, externalID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) CreateLedgerEntryIfNotExists(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListLedgerEntriesByEmail(ctx context.Context, email string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) ListEmailsWithDuplicateLedgerEntries(ctx context.Context) ([]string, error) {
	var emails []string
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Distinct("user_email").
		Where("external_id IN (?)", r.db.Model(&models.LedgerEntry{}).
			Select("external_id").
			Group("external_id").
			Having("COUNT(*) > 1")).
		Order("user_email").
		Pluck("user_email", &emails).Error
	return emails, err
}

func (r *gormRepository) DeleteLedgerEntries(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.LedgerEntry{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", models.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SaveEntitlement writes every premium column in one single-row update. The
// customer id is owned by SetGatewayCustomerID and left untouched here.
func (r *gormRepository) SaveEntitlement(ctx context.Context, userID uint, e models.Entitlement) error {
	updates := map[string]interface{}{
		"is_premium":              e.IsPremium,
		"plan_type":               e.PlanType,
		"premium_started_at":      e.PremiumStartedAt,
		"premium_expires_at":      e.PremiumExpiresAt,
		"gateway_subscription_id": e.GatewaySubscriptionID,
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}

func (r *gormRepository) SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("gateway_customer_id", customerID).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetWebhookEvent(ctx, event.Provider, event.ProviderEventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error) {
	var stored models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
