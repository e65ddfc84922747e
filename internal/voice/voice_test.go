package voice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

var testStart = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type consents map[int64]bool

func (c consents) HasConsent(_ context.Context, userID int64, purpose domain.ConsentPurpose) (bool, error) {
	return purpose == domain.PurposeVoiceProcessing && c[userID], nil
}

type fakeQueue struct {
	jobs []*queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, p any) (*queue.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	raw, _ := json.Marshal(p)
	job := &queue.Job{ID: "job", Queue: name, Payload: raw, MaxAttempts: 2}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *fakeQueue) Consume(context.Context, string, int, queue.Handler) error { return nil }

type transcriberFunc func(ctx context.Context, audioURL, language string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audioURL, language string) (string, error) {
	return f(ctx, audioURL, language)
}

type statusCollector struct {
	channels []string
	statuses []string
}

func (c *statusCollector) Publish(_ context.Context, channel, event string, data any) error {
	c.channels = append(c.channels, channel)
	c.statuses = append(c.statuses, data.(Job).Status)
	return nil
}

func newTestStore(t *testing.T) *repository.VoiceJobRepository {
	t.Helper()
	cfg := config.Database{Type: config.DATABASE_TYPE_SQLITE, SQLiteFile: filepath.Join(t.TempDir(), "voice.db")}
	require.NoError(t, database.Migrate(database.SQLite, cfg.MigrationURL(), database.Up))
	db, dialect, err := database.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewVoiceJobRepository(db, dialect, core.NewFakeClock(testStart))
}

func TestService_CreateRequiresConsent(t *testing.T) {
	q := &fakeQueue{}
	svc := NewService(newTestStore(t), consents{1: true}, q, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, 2, "https://cdn.example.com/a.ogg", "")
	assert.ErrorIs(t, err, ErrConsentRequired)
	_, err = svc.Create(ctx, 1, "file:///etc/passwd", "")
	assert.ErrorIs(t, err, ErrInvalidAudioURL)
	assert.Empty(t, q.jobs)

	job, err := svc.Create(ctx, 1, "https://cdn.example.com/a.ogg", "")
	require.NoError(t, err)
	assert.Equal(t, domain.VoiceJobQueued, job.Status)
	assert.Equal(t, "en", job.Language)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, QueueName, q.jobs[0].Queue)

	got, err := svc.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.AudioURL, got.AudioURL)
	_, err = svc.Get(ctx, 2, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_CreateEnqueueFailure(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, consents{1: true}, &fakeQueue{err: queue.ErrUnavailable}, nil, nil)

	_, err := svc.Create(context.Background(), 1, "https://cdn.example.com/a.ogg", "de")
	assert.ErrorIs(t, err, queue.ErrUnavailable)

	jobs, err := store.FindByUserID(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.VoiceJobFailed, jobs[0].Status)
}

func TestService_ProcessCompletes(t *testing.T) {
	q := &fakeQueue{}
	events := &statusCollector{}
	store := newTestStore(t)
	svc := NewService(store, consents{1: true}, q, transcriberFunc(func(_ context.Context, audioURL, language string) (string, error) {
		assert.Equal(t, "pt", language)
		return "olá mundo", nil
	}), events)
	ctx := context.Background()

	job, err := svc.Create(ctx, 1, "https://cdn.example.com/a.ogg", "pt")
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, q.jobs[0]))

	done, err := svc.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VoiceJobCompleted, done.Status)
	assert.Equal(t, "olá mundo", done.Transcript)
	assert.Equal(t, 1, done.Attempts)
	assert.NotNil(t, done.Completed)

	assert.Equal(t, []string{domain.VoiceJobProcessing, domain.VoiceJobCompleted}, events.statuses)
	assert.Equal(t, realtime.UserChannel(1), events.channels[0])

	// redelivery of a completed job is a no-op
	require.NoError(t, svc.Process(ctx, q.jobs[0]))
	assert.Len(t, events.statuses, 2)
}

func TestService_ProcessFailureRequeuesThenFails(t *testing.T) {
	q := &fakeQueue{}
	events := &statusCollector{}
	svc := NewService(newTestStore(t), consents{1: true}, q, transcriberFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("model overloaded")
	}), events)
	ctx := context.Background()

	job, err := svc.Create(ctx, 1, "https://cdn.example.com/a.ogg", "")
	require.NoError(t, err)
	qj := q.jobs[0]

	assert.Error(t, svc.Process(ctx, qj))
	got, _ := svc.Get(ctx, 1, job.ID)
	assert.Equal(t, domain.VoiceJobQueued, got.Status)
	assert.Equal(t, "model overloaded", got.Error)

	qj.Attempts = 1
	assert.Error(t, svc.Process(ctx, qj))
	got, _ = svc.Get(ctx, 1, job.ID)
	assert.Equal(t, domain.VoiceJobFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, []string{domain.VoiceJobProcessing, domain.VoiceJobQueued, domain.VoiceJobProcessing, domain.VoiceJobFailed}, events.statuses)
}

func TestService_ProcessDropsDeletedJob(t *testing.T) {
	svc := NewService(newTestStore(t), consents{}, &fakeQueue{}, nil, nil)
	err := svc.Process(context.Background(), &queue.Job{Payload: json.RawMessage(`{"jobKey":"gone"}`)})
	assert.NoError(t, err)
}

func TestHTTPTranscriber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "language").String() == "xx" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unsupported language"}`))
			return
		}
		assert.Equal(t, "https://cdn.example.com/a.ogg", gjson.GetBytes(body, "audioUrl").String())
		w.Write([]byte(`{"text":"hello world","duration":1.5}`))
	}))
	defer server.Close()

	tr := NewHTTPTranscriber(server.URL, time.Second)
	text, err := tr.Transcribe(context.Background(), "https://cdn.example.com/a.ogg", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = tr.Transcribe(context.Background(), "https://cdn.example.com/a.ogg", "xx")
	assert.ErrorContains(t, err, "unsupported language")

	_, err = NewHTTPTranscriber("", time.Second).Transcribe(context.Background(), "u", "en")
	assert.ErrorIs(t, err, ErrTranscriberNotConfigured)
}
