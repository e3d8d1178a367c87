package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/email"
	"mailpipe/internal/metrics"
	"mailpipe/internal/models"
	"mailpipe/internal/template"
	"mailpipe/internal/worker"
)

// Enqueuer adds a job to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, toEmail, templateType string, variables map[string]string, scheduledFor time.Time) (int64, error)
}

// Service is the delivery origination surface: synchronous sends for
// request/response callers and real enqueues for everything deferred.
type Service struct {
	queue     Enqueuer
	templates worker.TemplateSource
	logs      worker.LogStore
	sender    *email.Sender
	renderer  *template.Renderer
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	queue Enqueuer,
	templates worker.TemplateSource,
	logs worker.LogStore,
	sender *email.Sender,
	renderer *template.Renderer,
	logger *zap.Logger,
) *Service {
	return &Service{
		queue:     queue,
		templates: templates,
		logs:      logs,
		sender:    sender,
		renderer:  renderer,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SendNow renders and delivers synchronously, bypassing the queue. No job
// row is created; a log row is written on success so the send still shows
// up in the audit trail.
func (s *Service) SendNow(ctx context.Context, toEmail, templateType string, variables map[string]string) (string, error) {
	tmpl, err := s.templates.GetTemplate(ctx, templateType)
	if err != nil {
		return "", err
	}

	rendered := s.renderer.Render(tmpl, variables)

	messageID, senderUsed, err := s.sender.Send(ctx, toEmail, rendered.Subject, rendered.HTML)
	if err != nil {
		return "", err
	}

	entry := &models.EmailLog{
		UserEmail:    toEmail,
		TemplateType: templateType,
		Status:       models.StatusSent,
		Metadata: map[string]string{
			"message_id": messageID,
			"sender":     senderUsed,
		},
	}
	if logErr := s.logs.InsertLog(ctx, entry); logErr != nil {
		s.logger.Error("failed to log immediate send", zap.Error(logErr))
	}

	metrics.EmailsSent.Inc()
	return messageID, nil
}

// Schedule enqueues a job to be delivered once the delay elapses. A zero
// delay makes the job eligible on the next tick; this is the path lifecycle
// events take so every queued email shares one retry policy and audit
// trail.
func (s *Service) Schedule(ctx context.Context, toEmail, templateType string, variables map[string]string, delay time.Duration) (int64, time.Time, error) {
	scheduledFor := s.now().Add(delay)

	jobID, err := s.queue.Enqueue(ctx, toEmail, templateType, variables, scheduledFor)
	if err != nil {
		return 0, time.Time{}, err
	}

	metrics.JobsEnqueued.Inc()

	s.logger.Info("job enqueued",
		zap.Int64("job_id", jobID),
		zap.String("to", toEmail),
		zap.String("template", templateType),
		zap.Time("scheduled_for", scheduledFor),
	)

	return jobID, scheduledFor, nil
}
