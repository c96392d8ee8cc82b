// Package alerts persists and fans out notifications. Every alert carries a
// deterministic id derived from its triggering event, so re-delivered chain
// ranges collapse to a single routed notification.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// Store is the dedupe and audit surface the router needs.
type Store interface {
	InsertAlertIfAbsent(ctx context.Context, a model.Alert) (bool, error)
	MarkAlertSent(ctx context.Context, id string) error
}

// Bus carries the delivery queues and the websocket channel.
type Bus interface {
	Enqueue(ctx context.Context, queue string, v any) error
	Publish(ctx context.Context, channel string, v any)
}

// TelegramEntry is one queued telegram delivery.
type TelegramEntry struct {
	Alert  model.Alert `json:"alert"`
	Urgent bool        `json:"urgent"`
}

// WebhookEntry is one queued webhook delivery, drained by an external worker.
type WebhookEntry struct {
	ID      string      `json:"id"`
	URL     string      `json:"url"`
	Payload model.Alert `json:"payload"`
	Retries int         `json:"retries"`
}

// Router dedupes alerts through the store and fans them out by severity.
// CRITICAL reaches telegram (urgent), websocket, webhooks and the critical
// log; HIGH drops the critical log; MEDIUM drops telegram; LOW is
// websocket only.
type Router struct {
	store    Store
	bus      Bus
	webhooks []string
	met      *metrics.Metrics
	log      *zap.Logger
	critical *zap.Logger
}

func NewRouter(store Store, bus Bus, webhookURLs []string, met *metrics.Metrics, log *zap.Logger) *Router {
	return &Router{
		store:    store,
		bus:      bus,
		webhooks: webhookURLs,
		met:      met,
		log:      log.Named("alerts"),
		critical: log.Named("alerts.critical"),
	}
}

// Route persists the alert and fans it out. A duplicate id is a no-op.
// Queue failures are logged, not returned: the row is already persisted
// and dedupe would swallow a retry anyway.
func (r *Router) Route(ctx context.Context, a model.Alert) error {
	if a.ID == "" {
		return errors.New("alert without id")
	}
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().Unix()
	}

	inserted, err := r.store.InsertAlertIfAbsent(ctx, a)
	if err != nil {
		return fmt.Errorf("persist alert %s: %w", a.ID, err)
	}
	if !inserted {
		r.log.Debug("duplicate alert suppressed", zap.String("id", a.ID))
		return nil
	}

	// Every severity reaches the websocket stream.
	r.bus.Publish(ctx, kv.ChannelWSAlerts, a)

	switch a.Severity {
	case model.SeverityCritical:
		r.critical.Error("critical alert",
			zap.String("id", a.ID),
			zap.String("type", a.Type),
			zap.String("token", a.TokenAddress),
			zap.String("message", a.Message))
		r.enqueueTelegram(ctx, a, true)
		r.enqueueWebhooks(ctx, a)
	case model.SeverityHigh:
		r.enqueueTelegram(ctx, a, false)
		r.enqueueWebhooks(ctx, a)
	case model.SeverityMedium:
		r.enqueueWebhooks(ctx, a)
	}

	if err := r.store.MarkAlertSent(ctx, a.ID); err != nil {
		r.log.Warn("mark alert sent failed", zap.String("id", a.ID), zap.Error(err))
	}
	if r.met != nil {
		r.met.AlertsRouted.WithLabelValues(string(a.Severity)).Inc()
	}
	r.log.Info("alert routed",
		zap.String("id", a.ID),
		zap.String("type", a.Type),
		zap.String("severity", string(a.Severity)),
		zap.String("token", a.TokenAddress))
	return nil
}

func (r *Router) enqueueTelegram(ctx context.Context, a model.Alert, urgent bool) {
	if err := r.bus.Enqueue(ctx, kv.QueueTelegramAlerts, TelegramEntry{Alert: a, Urgent: urgent}); err != nil {
		r.log.Warn("telegram enqueue failed", zap.String("id", a.ID), zap.Error(err))
	}
}

func (r *Router) enqueueWebhooks(ctx context.Context, a model.Alert) {
	for _, url := range r.webhooks {
		entry := WebhookEntry{
			ID:      uuid.NewString(),
			URL:     url,
			Payload: a,
			Retries: 0,
		}
		if err := r.bus.Enqueue(ctx, kv.QueueWebhooks, entry); err != nil {
			r.log.Warn("webhook enqueue failed",
				zap.String("id", a.ID), zap.String("url", url), zap.Error(err))
		}
	}
}
