package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailpipe/internal/email"
	"mailpipe/internal/metrics"
	"mailpipe/internal/models"
	"mailpipe/internal/template"
)

// JobStore is the slice of the job table the processor mutates. Claim must
// be atomic: at most one caller gets ok=true per pending job.
type JobStore interface {
	FetchEligible(ctx context.Context, limit int, now time.Time) ([]models.EmailJob, error)
	Claim(ctx context.Context, jobID int64) (*models.EmailJob, bool, error)
	MarkSent(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, errorMsg string, terminal bool) error
	ResetStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateSource resolves template types. A missing template surfaces as
// models.ErrTemplateNotFound.
type TemplateSource interface {
	GetTemplate(ctx context.Context, templateType string) (*models.EmailTemplate, error)
}

// LogStore receives one audit row per finished attempt.
type LogStore interface {
	InsertLog(ctx context.Context, entry *models.EmailLog) error
}

// Result is what one Process invocation reports back to its trigger.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	TotalJobs int `json:"total_jobs"`
}

// Config holds the knobs one Processor runs with. Everything is passed in
// explicitly; nothing is read from ambient state at call time.
type Config struct {
	BatchSize    int
	MaxAttempts  int
	StuckTimeout time.Duration
}

// Processor drains eligible jobs and attempts delivery. Each invocation is
// stateless; overlapping invocations coordinate only through the atomic
// claim in the store.
type Processor struct {
	store     JobStore
	templates TemplateSource
	logs      LogStore
	sender    *email.Sender
	renderer  *template.Renderer
	limiter   *rate.Limiter
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewProcessor(
	store JobStore,
	templates TemplateSource,
	logs LogStore,
	sender *email.Sender,
	renderer *template.Renderer,
	limiter *rate.Limiter,
	logger *zap.Logger,
	cfg Config,
) *Processor {

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.MaxAttempts
	}

	return &Processor{
		store:     store,
		templates: templates,
		logs:      logs,
		sender:    sender,
		renderer:  renderer,
		limiter:   limiter,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the processor's clock. Tests only.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process claims and delivers one batch of eligible jobs, strictly in
// scheduled order, one provider call at a time. An empty batch is a valid
// no-op. Per-job failures are recorded and do not stop the batch; only
// invocation-level problems (bad config, unreachable store) return an
// error.
func (p *Processor) Process(ctx context.Context) (Result, error) {
	if !p.sender.Configured() {
		return Result{}, email.ErrNotConfigured
	}

	if p.cfg.StuckTimeout > 0 {
		cutoff := p.now().Add(-p.cfg.StuckTimeout)
		reset, err := p.store.ResetStuck(ctx, cutoff)
		if err != nil {
			p.logger.Error("failed to reset stuck jobs", zap.Error(err))
		} else if reset > 0 {
			p.logger.Warn("recovered stuck jobs", zap.Int64("count", reset))
		}
	}

	batch, err := p.store.FetchEligible(ctx, p.cfg.BatchSize, p.now())
	if err != nil {
		return Result{}, err
	}

	if len(batch) == 0 {
		return Result{}, nil
	}

	result := Result{TotalJobs: len(batch)}

	for _, eligible := range batch {
		job, ok, err := p.store.Claim(ctx, eligible.ID)
		if err != nil {
			p.logger.Error("claim failed",
				zap.Int64("job_id", eligible.ID),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			// Another invocation got there first.
			continue
		}

		meta, derr := p.deliver(ctx, job)
		if derr == nil {
			p.finishSent(ctx, job, meta)
			result.Processed++
			continue
		}

		p.finishFailed(ctx, job, derr)
		result.Failed++
	}

	return result, nil
}

// deliver runs template lookup, rendering and the provider call for one
// claimed job. On success it returns the audit metadata for the log row.
func (p *Processor) deliver(ctx context.Context, job *models.EmailJob) (map[string]string, *DeliveryError) {
	tmpl, err := p.templates.GetTemplate(ctx, job.TemplateType)
	if err != nil {
		if errors.Is(err, models.ErrTemplateNotFound) {
			return nil, fatalf("template lookup: %w", err)
		}
		return nil, transientf("template lookup: %w", err)
	}

	rendered := p.renderer.Render(tmpl, job.Variables)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, transientf("rate limiter: %w", err)
		}
	}

	messageID, senderUsed, err := p.sender.Send(ctx, job.ToEmail, rendered.Subject, rendered.HTML)
	if err != nil {
		return nil, transientf("provider send: %w", err)
	}

	return map[string]string{
		"job_id":     strconv.FormatInt(job.ID, 10),
		"message_id": messageID,
		"sender":     senderUsed,
	}, nil
}

func (p *Processor) finishSent(ctx context.Context, job *models.EmailJob, meta map[string]string) {
	if err := p.store.MarkSent(ctx, job.ID); err != nil {
		p.logger.Error("failed to mark job sent",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
	}

	p.writeLog(ctx, job, models.StatusSent, "", meta)
	metrics.EmailsSent.Inc()

	p.logger.Info("email sent",
		zap.Int64("job_id", job.ID),
		zap.String("to", job.ToEmail),
		zap.String("template", job.TemplateType),
		zap.String("sender", meta["sender"]),
	)
}

func (p *Processor) finishFailed(ctx context.Context, job *models.EmailJob, derr *DeliveryError) {
	// job.Attempts already reflects this claim.
	terminal := derr.Kind == Fatal || job.Attempts >= p.cfg.MaxAttempts

	if err := p.store.MarkFailed(ctx, job.ID, derr.Error(), terminal); err != nil {
		p.logger.Error("failed to mark job failed",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
	}

	p.writeLog(ctx, job, models.StatusFailed, derr.Error(), map[string]string{
		"job_id": strconv.FormatInt(job.ID, 10),
	})
	metrics.EmailFailures.Inc()

	p.logger.Error("email delivery failed",
		zap.Int64("job_id", job.ID),
		zap.String("to", job.ToEmail),
		zap.Int("attempts", job.Attempts),
		zap.Bool("terminal", terminal),
		zap.Error(derr),
	)
}

func (p *Processor) writeLog(ctx context.Context, job *models.EmailJob, status models.EmailStatus, errMsg string, meta map[string]string) {
	entry := &models.EmailLog{
		UserEmail:    job.ToEmail,
		TemplateType: job.TemplateType,
		Status:       status,
		ErrorMessage: errMsg,
		Metadata:     meta,
	}

	if err := p.logs.InsertLog(ctx, entry); err != nil {
		p.logger.Error("failed to write email log",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
	}
}
