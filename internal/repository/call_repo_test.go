package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func newTestManager(t *testing.T) (*GormRepositoryManager, *gorm.DB) {
	db := newTestDB(t)
	return NewGormRepositoryManager(StaticDB(db)), db
}

func TestCallCreateAndLookups(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, domain.CallStatusQueued, call.Status)
	assert.Equal(t, domain.CallDirectionOutbound, call.Direction)

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+15551234567", got.PhoneNumber)

	missing, err := repos.Call().GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := repos.Call().GetByIDForUser(ctx, call.ID, "u2")
	require.NoError(t, err)
	assert.Nil(t, other)

	bySID, err := repos.Call().GetByCallSID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, bySID)
}

func TestCallColumnNames(t *testing.T) {
	db := newTestDB(t)

	for _, column := range []string{"call_sid", "conversation_id", "recording_url", "duration_seconds", "agent_snapshot"} {
		assert.True(t, db.Migrator().HasColumn(&domain.Call{}, column), column)
	}
	assert.False(t, db.Migrator().HasColumn(&domain.Call{}, "call_s_id"))
}

func TestMarkInitiated(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))

	advanced, err := repos.Call().MarkInitiated(ctx, call.ID, "conv_1", "CA1")
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.CallStatusInitiated, got.Status)
	assert.Equal(t, "conv_1", got.GetConversationID())
	assert.Equal(t, "CA1", got.CallSID)

	bySID, err := repos.Call().GetByCallSID(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, bySID)
	assert.Equal(t, call.ID, bySID.ID)
}

func TestMarkInitiatedDoesNotRegressCompletedCall(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))

	require.NoError(t, repos.Call().UpdateColumns(ctx, call.ID, map[string]interface{}{
		"status":  domain.CallStatusCompleted,
		"summary": "Booked.",
	}))

	advanced, err := repos.Call().MarkInitiated(ctx, call.ID, "conv_9", "CA9")
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, got.Status)
	assert.Equal(t, "conv_9", got.GetConversationID())
	assert.Equal(t, "CA9", got.CallSID)
	assert.Equal(t, "Booked.", got.Summary)
}

func TestMarkFailedSkipsTerminalCalls(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	queued := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, queued))

	changed, err := repos.Call().MarkFailed(ctx, queued.ID, "voice session rejected")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repos.Call().GetByID(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, got.Status)
	assert.Equal(t, "voice session rejected", got.FailureReason)

	changed, err = repos.Call().MarkFailed(ctx, queued.ID, "second failure")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdateColumnsLeavesOtherColumns(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))
	_, err := repos.Call().MarkInitiated(ctx, call.ID, "conv_1", "CA1")
	require.NoError(t, err)

	require.NoError(t, repos.Call().UpdateColumns(ctx, call.ID, map[string]interface{}{"status": domain.CallStatusInProgress}))

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInProgress, got.Status)
	assert.Equal(t, "conv_1", got.GetConversationID())
	assert.Equal(t, "CA1", got.CallSID)

	require.NoError(t, repos.Call().UpdateColumns(ctx, call.ID, nil))
}

func TestMarkDialUnconfirmedKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))

	require.NoError(t, repos.Call().MarkDialUnconfirmed(ctx, call.ID, "conv_1", "dial result unknown: timeout"))

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusQueued, got.Status)
	assert.Equal(t, "conv_1", got.GetConversationID())
	assert.Equal(t, "dial result unknown: timeout", got.FailureReason)

	advanced, err := repos.Call().MarkInitiated(ctx, call.ID, "conv_1", "CA1")
	require.NoError(t, err)
	assert.True(t, advanced)
}

func TestFillBackfillOnlyFillsEmptyColumns(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567", Transcript: "agent: hello"}
	require.NoError(t, repos.Call().Create(ctx, call))

	require.NoError(t, repos.Call().FillBackfill(ctx, call.ID, "agent: replaced", "https://storage.googleapis.com/b/c.mp3"))

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent: hello", got.Transcript)
	assert.Equal(t, "https://storage.googleapis.com/b/c.mp3", got.RecordingURL)
}

func TestListCalls(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	for i, user := range []string{"u1", "u1", "u1", "u2"} {
		c := &domain.Call{UserID: user, AgentID: "a1", PhoneNumber: "+1555000000" + string(rune('0'+i))}
		require.NoError(t, repos.Call().Create(ctx, c))
	}

	calls, total, err := repos.Call().List(ctx, domain.CallListFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "u1", c.UserID)
	}

	calls, total, err = repos.Call().List(ctx, domain.CallListFilter{UserID: "u1", Status: domain.CallStatusCompleted})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, calls)
}

func TestAgentLookupIsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	repos, db := newTestManager(t)

	agent := &domain.Agent{
		ID:              "a1",
		UserID:          "u1",
		Name:            "Sales",
		ProviderAgentID: "agent_xyz",
		Config:          domain.AgentConfigData{FirstMessage: "Hello!", VoiceID: "v1"},
	}
	require.NoError(t, db.Create(agent).Error)

	got, err := repos.Agent().GetByIDForUser(ctx, "a1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello!", got.Config.FirstMessage)
	assert.Equal(t, "v1", got.Config.VoiceID)

	got, err = repos.Agent().GetByIDForUser(ctx, "a1", "u2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	boom := errors.New("boom")
	err := repos.WithTx(ctx, func(ctx context.Context, tx RepositoryManager) error {
		require.NoError(t, tx.Call().Create(ctx, &domain.Call{ID: "tx-call", UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repos.Call().GetByID(ctx, "tx-call")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithTxLockedReadAndUpdate(t *testing.T) {
	ctx := context.Background()
	repos, _ := newTestManager(t)

	call := &domain.Call{UserID: "u1", AgentID: "a1", PhoneNumber: "+15551234567"}
	require.NoError(t, repos.Call().Create(ctx, call))

	err := repos.WithTx(ctx, func(ctx context.Context, tx RepositoryManager) error {
		locked, err := tx.Call().GetByIDForUpdate(ctx, call.ID)
		require.NoError(t, err)
		require.NotNil(t, locked)
		return tx.Call().UpdateColumns(ctx, call.ID, map[string]interface{}{"summary": "Asked for a callback."})
	})
	require.NoError(t, err)

	got, err := repos.Call().GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asked for a callback.", got.Summary)

	missing, err := repos.Call().GetByIDForUpdate(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConnectorRetriesAfterFailedOpen(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	attempts := 0
	conn := NewConnector(func(ctx context.Context) (*gorm.DB, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return db, nil
	})

	_, err := conn.DB(ctx)
	require.Error(t, err)
	assert.False(t, conn.Opened())

	got, err := conn.DB(ctx)
	require.NoError(t, err)
	assert.Same(t, db, got)

	_, err = conn.DB(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	repos := NewGormRepositoryManager(conn)
	require.NoError(t, repos.Ping(ctx))
}
