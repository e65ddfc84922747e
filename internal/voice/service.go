package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const QueueName = "voice"

var (
	ErrNotFound        = errors.New("voice job not found")
	ErrConsentRequired = errors.New("voice_processing consent is required")
	ErrInvalidAudioURL = errors.New("audioUrl must be an absolute http(s) url")
)

type Store interface {
	Save(ctx context.Context, j *domain.VoiceJob) (int64, error)
	FindByID(ctx context.Context, id int64) (*domain.VoiceJob, error)
	FindByKey(ctx context.Context, key string) (*domain.VoiceJob, error)
	FindByUserID(ctx context.Context, userID int64, limit int) ([]domain.VoiceJob, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, transcript string) error
	MarkError(ctx context.Context, id int64, status, message string) error
}

type ConsentChecker interface {
	HasConsent(ctx context.Context, userID int64, purpose domain.ConsentPurpose) (bool, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) (*queue.Job, error)
	Consume(ctx context.Context, name string, workers int, handler queue.Handler) error
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, data any) error
}

// Job is the API and WebSocket view of a voice job.
type Job struct {
	ID         int64      `json:"id"`
	AudioURL   string     `json:"audioUrl"`
	Language   string     `json:"language"`
	Status     string     `json:"status"`
	Transcript string     `json:"transcript,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	Created    time.Time  `json:"created"`
	Updated    time.Time  `json:"updated"`
	Completed  *time.Time `json:"completed,omitempty"`
}

func JobView(j *domain.VoiceJob) Job {
	v := Job{
		ID:         j.ID,
		AudioURL:   j.AudioURL,
		Language:   j.Language,
		Status:     j.Status,
		Transcript: j.Transcript.String,
		Error:      j.Error.String,
		Attempts:   j.Attempts,
		Created:    j.Created,
		Updated:    j.Updated,
	}
	if j.Completed.Valid {
		v.Completed = &j.Completed.Time
	}
	return v
}

type payload struct {
	JobKey string `json:"jobKey"`
}

type Service struct {
	store       Store
	consents    ConsentChecker
	queue       JobQueue
	transcriber Transcriber
	publisher   Publisher
}

func NewService(store Store, consents ConsentChecker, q JobQueue, transcriber Transcriber, publisher Publisher) *Service {
	return &Service{store: store, consents: consents, queue: q, transcriber: transcriber, publisher: publisher}
}

// Create stores a queued job and hands it to the voice queue.
func (s *Service) Create(ctx context.Context, userID int64, audioURL, language string) (*Job, error) {
	u, err := url.Parse(audioURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidAudioURL
	}
	ok, err := s.consents.HasConsent(ctx, userID, domain.PurposeVoiceProcessing)
	if err != nil {
		return nil, fmt.Errorf("check consent: %w", err)
	}
	if !ok {
		return nil, ErrConsentRequired
	}
	if language == "" {
		language = "en"
	}

	j := &domain.VoiceJob{UserID: userID, JobKey: uuid.NewString(), AudioURL: audioURL, Language: language}
	if _, err := s.store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save voice job: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, QueueName, payload{JobKey: j.JobKey}); err != nil {
		if markErr := s.store.MarkError(ctx, j.ID, domain.VoiceJobFailed, "enqueue failed"); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark voice job", "job_id", j.ID, "error", markErr)
		}
		return nil, fmt.Errorf("enqueue voice job: %w", err)
	}
	slog.InfoContext(ctx, "Voice job queued", "job_id", j.ID, "user_id", userID)
	v := JobView(j)
	return &v, nil
}

// Get returns a job owned by the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (*Job, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil || j.UserID != userID {
		return nil, ErrNotFound
	}
	v := JobView(j)
	return &v, nil
}

func (s *Service) List(ctx context.Context, userID int64, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobs, err := s.store.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]Job, 0, len(jobs))
	for i := range jobs {
		views = append(views, JobView(&jobs[i]))
	}
	return views, nil
}

// Run consumes the voice queue until ctx is done.
func (s *Service) Run(ctx context.Context, workers int) error {
	return s.queue.Consume(ctx, QueueName, workers, s.Process)
}

// Process handles one queued job. Jobs deleted in the meantime are dropped.
func (s *Service) Process(ctx context.Context, qj *queue.Job) error {
	var p payload
	if err := qj.Decode(&p); err != nil {
		return fmt.Errorf("decode voice payload: %w", err)
	}
	j, err := s.store.FindByKey(ctx, p.JobKey)
	if err != nil {
		return err
	}
	if j == nil || j.Status == domain.VoiceJobCompleted {
		return nil
	}

	if err := s.store.MarkProcessing(ctx, j.ID); err != nil {
		return err
	}
	s.notify(ctx, j.ID)

	text, err := s.transcriber.Transcribe(ctx, j.AudioURL, j.Language)
	if err != nil {
		status := domain.VoiceJobQueued
		if qj.LastAttempt() {
			status = domain.VoiceJobFailed
		}
		if markErr := s.store.MarkError(ctx, j.ID, status, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark voice job", "job_id", j.ID, "error", markErr)
		}
		s.notify(ctx, j.ID)
		return err
	}
	if err := s.store.MarkCompleted(ctx, j.ID, text); err != nil {
		return err
	}
	s.notify(ctx, j.ID)
	slog.InfoContext(ctx, "Voice job completed", "job_id", j.ID)
	return nil
}

// notify pushes the stored job state to the owner's channel.
func (s *Service) notify(ctx context.Context, id int64) {
	if s.publisher == nil {
		return
	}
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.UserChannel(j.UserID), realtime.EventVoiceJob, JobView(j)); err != nil {
		slog.WarnContext(ctx, "Failed to publish voice job update", "job_id", id, "error", err)
	}
}
