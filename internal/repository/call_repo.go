package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 50

// GormCallRepository implements CallRepository using GORM
type GormCallRepository struct {
	conn DBProvider
}

// NewGormCallRepository creates a new GORM call repository
func NewGormCallRepository(conn DBProvider) *GormCallRepository {
	return &GormCallRepository{conn: conn}
}

func (r *GormCallRepository) db(ctx context.Context) (*gorm.DB, error) {
	db, err := r.conn.DB(ctx)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db.WithContext(ctx), nil
}

// Create inserts a new call record
func (r *GormCallRepository) Create(ctx context.Context, call *domain.Call) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Direction == "" {
		call.Direction = domain.CallDirectionOutbound
	}
	if call.Status == "" {
		call.Status = domain.CallStatusQueued
	}
	now := time.Now().UTC()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now

	if err := db.Create(call).Error; err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

// GetByID retrieves a call by its internal id
func (r *GormCallRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByIDForUser retrieves a call owned by userID
func (r *GormCallRepository) GetByIDForUser(ctx context.Context, id, userID string) (*domain.Call, error) {
	return r.first(ctx, "id = ? AND user_id = ?", id, userID)
}

// GetByIDForUpdate retrieves a call and locks its row until the surrounding
// transaction ends. Outside WithTx it behaves like GetByID.
func (r *GormCallRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Call, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	var call domain.Call
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

// GetByCallSID retrieves a call by the Twilio call sid
func (r *GormCallRepository) GetByCallSID(ctx context.Context, callSID string) (*domain.Call, error) {
	if callSID == "" {
		return nil, nil
	}
	return r.first(ctx, "call_sid = ?", callSID)
}

func (r *GormCallRepository) first(ctx context.Context, query string, args ...interface{}) (*domain.Call, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	var call domain.Call
	if err := db.Where(query, args...).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

// List returns a page of calls newest first, plus the total match count
func (r *GormCallRepository) List(ctx context.Context, filter domain.CallListFilter) ([]*domain.Call, int64, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, 0, err
	}

	query := db.Model(&domain.Call{}).Where("user_id = ?", filter.UserID)
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	var calls []*domain.Call
	if err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&calls).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	return calls, total, nil
}

// UpdateColumns writes only the given columns of one call
func (r *GormCallRepository) UpdateColumns(ctx context.Context, id string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	values["updated_at"] = time.Now().UTC()
	if err := db.Model(&domain.Call{}).Where("id = ?", id).Updates(values).Error; err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	return nil
}

// MarkInitiated moves a queued call to initiated and records the provider ids.
// When the record already moved past queued (a webhook won the race) only the
// missing ids are filled in and false is returned.
func (r *GormCallRepository) MarkInitiated(ctx context.Context, id, conversationID, callSID string) (bool, error) {
	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	result := db.Model(&domain.Call{}).
		Where("id = ? AND status = ?", id, domain.CallStatusQueued).
		Updates(map[string]interface{}{
			"status":          domain.CallStatusInitiated,
			"conversation_id": conversationID,
			"call_sid":        callSID,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark call initiated: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if err := db.Model(&domain.Call{}).
		Where("id = ? AND (conversation_id IS NULL OR conversation_id = '')", id).
		Updates(map[string]interface{}{"conversation_id": conversationID, "updated_at": now}).Error; err != nil {
		return false, fmt.Errorf("failed to set conversation id: %w", err)
	}
	if err := db.Model(&domain.Call{}).
		Where("id = ? AND (call_sid IS NULL OR call_sid = '')", id).
		Updates(map[string]interface{}{"call_sid": callSID, "updated_at": now}).Error; err != nil {
		return false, fmt.Errorf("failed to set call sid: %w", err)
	}
	return false, nil
}

// MarkFailed moves a non-terminal call to failed with a reason
func (r *GormCallRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	result := db.Model(&domain.Call{}).
		Where("id = ? AND status NOT IN ?", id, domain.TerminalStatuses()).
		Updates(map[string]interface{}{
			"status":         domain.CallStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark call failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkDialUnconfirmed records a dial whose result is unknown. The status is
// left alone so the telephony callback or the voice webhook can settle it.
func (r *GormCallRepository) MarkDialUnconfirmed(ctx context.Context, id, conversationID, reason string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := db.Model(&domain.Call{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"failure_reason": reason, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to record unconfirmed dial: %w", err)
	}
	if conversationID == "" {
		return nil
	}
	if err := db.Model(&domain.Call{}).
		Where("id = ? AND (conversation_id IS NULL OR conversation_id = '')", id).
		Updates(map[string]interface{}{"conversation_id": conversationID, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to set conversation id: %w", err)
	}
	return nil
}

// FillBackfill stores transcript and recording url where they are still empty
func (r *GormCallRepository) FillBackfill(ctx context.Context, id, transcript, recordingURL string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if transcript != "" {
		if err := db.Model(&domain.Call{}).
			Where("id = ? AND (transcript IS NULL OR transcript = '')", id).
			Updates(map[string]interface{}{"transcript": transcript, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to backfill transcript: %w", err)
		}
	}
	if recordingURL != "" {
		if err := db.Model(&domain.Call{}).
			Where("id = ? AND (recording_url IS NULL OR recording_url = '')", id).
			Updates(map[string]interface{}{"recording_url": recordingURL, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to backfill recording: %w", err)
		}
	}
	return nil
}
