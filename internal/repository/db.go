package repository

import (
	"context"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"gorm.io/gorm"
)

// CallRepository defines the interface for call record operations
type CallRepository interface {
	// Create operations
	Create(ctx context.Context, call *domain.Call) error

	// Read operations. Lookups return (nil, nil) when nothing matches.
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	GetByIDForUser(ctx context.Context, id, userID string) (*domain.Call, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Call, error)
	GetByCallSID(ctx context.Context, callSID string) (*domain.Call, error)
	List(ctx context.Context, filter domain.CallListFilter) ([]*domain.Call, int64, error)

	// Update operations
	UpdateColumns(ctx context.Context, id string, values map[string]interface{}) error
	MarkInitiated(ctx context.Context, id, conversationID, callSID string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	MarkDialUnconfirmed(ctx context.Context, id, conversationID, reason string) error
	FillBackfill(ctx context.Context, id, transcript, recordingURL string) error
}

// AgentRepository defines the read operations on agents
type AgentRepository interface {
	GetByIDForUser(ctx context.Context, id, userID string) (*domain.Agent, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	Call() CallRepository
	Agent() AgentRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	conn      DBProvider
	callRepo  *GormCallRepository
	agentRepo *GormAgentRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(conn DBProvider) *GormRepositoryManager {
	return &GormRepositoryManager{
		conn:      conn,
		callRepo:  NewGormCallRepository(conn),
		agentRepo: NewGormAgentRepository(conn),
	}
}

// NewRepositoryManager creates a repository manager backed by a lazily
// opened Postgres connection configured from the environment
func NewRepositoryManager() *GormRepositoryManager {
	return NewGormRepositoryManager(NewPostgresConnector(LoadDatabaseConfigFromEnv()))
}

// Call returns the call repository
func (m *GormRepositoryManager) Call() CallRepository {
	return m.callRepo
}

// Agent returns the agent repository
func (m *GormRepositoryManager) Agent() AgentRepository {
	return m.agentRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	db, err := m.conn.DB(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(StaticDB(tx)))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	db, err := m.conn.DB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	if closer, ok := m.conn.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
