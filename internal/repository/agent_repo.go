package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"gorm.io/gorm"
)

// GormAgentRepository implements AgentRepository using GORM
type GormAgentRepository struct {
	conn DBProvider
}

// NewGormAgentRepository creates a new GORM agent repository
func NewGormAgentRepository(conn DBProvider) *GormAgentRepository {
	return &GormAgentRepository{conn: conn}
}

// GetByIDForUser retrieves an agent only if userID owns it
func (r *GormAgentRepository) GetByIDForUser(ctx context.Context, id, userID string) (*domain.Agent, error) {
	db, err := r.conn.DB(ctx)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}

	var agent domain.Agent
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}
