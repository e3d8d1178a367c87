package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/dispatch"
)

// Routing keys for the data-change notifications this pipeline reacts to.
const (
	RoutingKeyAccountCreated      = "account.created"
	RoutingKeySubscriptionUpdated = "subscription.updated"
)

// Template types originated by lifecycle events.
const (
	TemplateWelcome       = "welcome"
	TemplateTrialEnding7d = "trial_ending_7d"
	TemplateTrialEnding1d = "trial_ending_1d"
	TemplateTrialEnded    = "trial_ended"
)

type AccountCreatedEvent struct {
	EventID string `json:"event_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

type SubscriptionUpdatedEvent struct {
	EventID  string    `json:"event_id"`
	Email    string    `json:"email"`
	Status   string    `json:"status"`
	Plan     string    `json:"plan"`
	TrialEnd time.Time `json:"trial_end"`
}

// LifecycleHandler turns data-change notifications into queued jobs. It
// never calls the provider itself: every lifecycle email goes through the
// queue so it shares the worker's retry policy and audit trail.
type LifecycleHandler struct {
	dispatcher *dispatch.Service
	dedupe     EventDeduper
	logger     *zap.Logger
	now        func() time.Time
}

func NewLifecycleHandler(dispatcher *dispatch.Service, dedupe EventDeduper, logger *zap.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		dispatcher: dispatcher,
		dedupe:     dedupe,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the handler clock. Tests only.
func (h *LifecycleHandler) WithClock(now func() time.Time) *LifecycleHandler {
	h.now = now
	return h
}

// HandleAccountCreated enqueues the welcome email for a new account.
func (h *LifecycleHandler) HandleAccountCreated(ctx context.Context, body json.RawMessage) error {
	var event AccountCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode account.created: %w", err)
	}
	if event.Email == "" {
		return fmt.Errorf("account.created event without email")
	}

	if h.dedupe != nil && event.EventID != "" && !h.dedupe.AcquireOnce(ctx, event.EventID) {
		return nil
	}

	_, _, err := h.dispatcher.Schedule(ctx, event.Email, TemplateWelcome, map[string]string{
		"name": event.Name,
	}, 0)
	return err
}

// HandleSubscriptionUpdated enqueues the day-7 / day-1 / day-0 trial
// lifecycle email matching how far the trial end is.
func (h *LifecycleHandler) HandleSubscriptionUpdated(ctx context.Context, body json.RawMessage) error {
	var event SubscriptionUpdatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode subscription.updated: %w", err)
	}
	if event.Email == "" {
		return fmt.Errorf("subscription.updated event without email")
	}

	if event.Status != "trialing" {
		return nil
	}

	templateType, ok := h.trialTemplate(event.TrialEnd)
	if !ok {
		h.logger.Debug("no lifecycle email for trial window",
			zap.String("email", event.Email),
			zap.Time("trial_end", event.TrialEnd),
		)
		return nil
	}

	if h.dedupe != nil && event.EventID != "" && !h.dedupe.AcquireOnce(ctx, event.EventID) {
		return nil
	}

	_, _, err := h.dispatcher.Schedule(ctx, event.Email, templateType, map[string]string{
		"plan_name":   event.Plan,
		"expiry_date": event.TrialEnd.Format("02/01/2006"),
	}, 0)
	return err
}

// trialTemplate selects the email for the remaining trial window. Days are
// rounded up, so "6 days and 2 hours" counts as day 7.
func (h *LifecycleHandler) trialTemplate(trialEnd time.Time) (string, bool) {
	daysUntilEnd := int(math.Ceil(trialEnd.Sub(h.now()).Hours() / 24))

	switch {
	case daysUntilEnd == 7:
		return TemplateTrialEnding7d, true
	case daysUntilEnd == 1:
		return TemplateTrialEnding1d, true
	case daysUntilEnd <= 0:
		return TemplateTrialEnded, true
	default:
		return "", false
	}
}
