package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"capacity-checker/internal/model"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert announces new components for a watched company.
type Alert struct {
	CompanyID   string
	CompanyName string
	Added       int
}

// Payload is the JSON body delivered to the browser service worker.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// WorkerPool manages a pool of workers for sending company watch alerts.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	metrics *observability.Metrics
	logger  *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st store.Store, webpushOptions *webpush.Options, metrics *observability.Metrics, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size*4),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log := wp.logger.With(zap.Int("worker", id))
	log.Debug("worker started")
	for {
		select {
		case alert, ok := <-wp.jobs:
			if !ok {
				log.Debug("worker drained")
				return
			}
			wp.notifyWatchers(ctx, alert)
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		}
	}
}

// Dispatch queues an alert, blocking while the queue is full. It must not
// be called after Close.
func (wp *WorkerPool) Dispatch(ctx context.Context, alert Alert) error {
	select {
	case wp.jobs <- alert:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.jobs) })
	wp.wg.Wait()
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// BuildPayload renders the push message for an alert.
func BuildPayload(a Alert) Payload {
	name := a.CompanyName
	if name == "" {
		name = a.CompanyID
	}
	body := fmt.Sprintf("%d new capacity market components registered for %s.", a.Added, name)
	if a.Added == 1 {
		body = fmt.Sprintf("1 new capacity market component registered for %s.", name)
	}
	return Payload{
		Title: "New components for " + name,
		Body:  body,
		URL:   "/company/" + a.CompanyID + "/",
	}
}

func (wp *WorkerPool) notifyWatchers(ctx context.Context, alert Alert) {
	subscriptions, err := wp.store.SubscribersForCompany(ctx, alert.CompanyID)
	if err != nil {
		wp.logger.Error("failed to load subscribers", zap.String("company_id", alert.CompanyID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(BuildPayload(alert))
	if err != nil {
		wp.logger.Error("failed to encode push payload", zap.Error(err))
		return
	}

	wp.logger.Info("sending company watch alerts",
		zap.String("company_id", alert.CompanyID),
		zap.Int("subscribers", len(subscriptions)),
		zap.Int("added", alert.Added),
	)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.metrics.PushSent.WithLabelValues("error").Inc()
		wp.logger.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		wp.metrics.PushSent.WithLabelValues("expired").Inc()
		wp.logger.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	default:
		if resp.StatusCode >= 400 {
			wp.metrics.PushSent.WithLabelValues("error").Inc()
			wp.logger.Warn("push service rejected notification", zap.String("endpoint", sub.Endpoint), zap.Int("status", resp.StatusCode))
			return
		}
		wp.metrics.PushSent.WithLabelValues("sent").Inc()
	}
}
