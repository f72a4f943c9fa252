package backfill

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	httpadapter "github.com/ClareAI/astra-dialer-service/internal/adapters/http"
	"github.com/ClareAI/astra-dialer-service/internal/core/task"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeSource struct {
	conv     *httpadapter.Conversation
	audio    string
	audioErr error
	fetches  int
}

func (f *fakeSource) GetConversation(ctx context.Context, conversationID string) (*httpadapter.Conversation, error) {
	f.fetches++
	if f.conv == nil {
		return nil, domain.NewUpstreamError("voice provider returned status 404", errors.New("not found"))
	}
	return f.conv, nil
}

func (f *fakeSource) GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error) {
	if f.audioErr != nil {
		return nil, "", f.audioErr
	}
	return io.NopCloser(strings.NewReader(f.audio)), "audio/mpeg", nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryStore) Upload(ctx context.Context, objectPath string, content io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[objectPath] = string(data)
	return "https://storage.googleapis.com/recordings-test/" + objectPath, nil
}

func (m *memoryStore) Delete(ctx context.Context, objectPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectPath)
	return nil
}

func newTestRepos(t *testing.T) *repository.GormRepositoryManager {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	return repository.NewGormRepositoryManager(repository.StaticDB(db))
}

func seedCompletedCall(t *testing.T, repos repository.RepositoryManager, transcript string) *domain.Call {
	t.Helper()
	conv := "conv_1"
	call := &domain.Call{
		ID:             "call-1",
		UserID:         "user1",
		AgentID:        "agentA",
		PhoneNumber:    "+919876543210",
		Status:         domain.CallStatusCompleted,
		ConversationID: &conv,
		Transcript:     transcript,
	}
	require.NoError(t, repos.Call().Create(context.Background(), call))
	return call
}

func finishedConversation() *httpadapter.Conversation {
	return &httpadapter.Conversation{
		ConversationID: "conv_1",
		Status:         "done",
		Transcript: []httpadapter.TranscriptTurn{
			{Role: "agent", Message: "Hi Priya"},
			{Role: "user", Message: "Hello"},
		},
		HasAudio: true,
	}
}

func TestBackfillTranscriptAndRecording(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	seedCompletedCall(t, repos, "")

	store := &memoryStore{}
	w := NewWorker(repos, &fakeSource{conv: finishedConversation(), audio: "ID3"}, store, nil)

	require.NoError(t, w.Backfill(ctx, "call-1", task.BackfillPayload{ConversationID: "conv_1", NeedTranscript: true, NeedRecording: true}))

	got, err := repos.Call().GetByID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "agent: Hi Priya\nuser: Hello", got.Transcript)
	assert.Equal(t, "https://storage.googleapis.com/recordings-test/recordings/call-1.mp3", got.RecordingURL)
	assert.Equal(t, "ID3", store.objects["recordings/call-1.mp3"])
}

func TestBackfillKeepsExistingTranscript(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	seedCompletedCall(t, repos, "agent: from webhook")

	w := NewWorker(repos, &fakeSource{conv: finishedConversation(), audio: "ID3"}, &memoryStore{}, nil)
	require.NoError(t, w.Backfill(ctx, "call-1", task.BackfillPayload{NeedTranscript: true, NeedRecording: true}))

	got, err := repos.Call().GetByID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "agent: from webhook", got.Transcript)
	assert.NotEmpty(t, got.RecordingURL)
}

func TestBackfillWithoutStoreSkipsRecording(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	seedCompletedCall(t, repos, "agent: done")

	source := &fakeSource{conv: finishedConversation()}
	w := NewWorker(repos, source, nil, nil)
	require.NoError(t, w.Backfill(ctx, "call-1", task.BackfillPayload{NeedRecording: true}))
	assert.Zero(t, source.fetches)
}

func TestBackfillAudioFailureStillStoresTranscript(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	seedCompletedCall(t, repos, "")

	source := &fakeSource{conv: finishedConversation(), audioErr: errors.New("timeout")}
	w := NewWorker(repos, source, &memoryStore{}, nil)
	require.NoError(t, w.Backfill(ctx, "call-1", task.BackfillPayload{NeedTranscript: true, NeedRecording: true}))

	got, err := repos.Call().GetByID(ctx, "call-1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Transcript)
	assert.Empty(t, got.RecordingURL)
}

func TestBackfillErrors(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	w := NewWorker(repos, &fakeSource{}, &memoryStore{}, nil)
	err := w.Backfill(ctx, "missing", task.BackfillPayload{NeedTranscript: true})
	assert.Equal(t, domain.ErrorKindNotFound, domain.KindOf(err))

	seedCompletedCall(t, repos, "")
	err = w.Backfill(ctx, "call-1", task.BackfillPayload{NeedTranscript: true})
	assert.Equal(t, domain.ErrorKindUpstream, domain.KindOf(err))
}

func TestWorkerConsumesLocalBus(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	seedCompletedCall(t, repos, "")

	bus := task.NewLocalBus()
	w := NewWorker(repos, &fakeSource{conv: finishedConversation()}, nil, nil)
	require.NoError(t, w.Start(ctx, bus))

	tk, err := task.NewBackfillTask("call-1", task.BackfillPayload{ConversationID: "conv_1", NeedTranscript: true})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, tk))
	bus.Wait()

	got, err := repos.Call().GetByID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "agent: Hi Priya\nuser: Hello", got.Transcript)
}
