package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/model"
)

// AlertQueue is the consuming side of the alert queue.
type AlertQueue interface {
	BLPopAlertTask(ctx context.Context, timeout time.Duration) (string, error)
}

// AlertWorker drains queued alerts and POSTs each one to a webhook.
type AlertWorker struct {
	queue      AlertQueue
	logger     *logrus.Logger
	webhookURL string
	client     *http.Client
	popTimeout time.Duration
}

func NewAlertWorker(queue AlertQueue, logger *logrus.Logger, webhookURL string) *AlertWorker {
	return &AlertWorker{
		queue:      queue,
		logger:     logger,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		popTimeout: 5 * time.Second,
	}
}

func (w *AlertWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := w.processOne(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.WithError(err).Error("alert delivery failed")
			}
		}
	}
}

// processOne waits for one alert and delivers it. A pop timeout is not an error.
func (w *AlertWorker) processOne(ctx context.Context) error {
	res, err := w.queue.BLPopAlertTask(ctx, w.popTimeout)
	if err != nil {
		// keep a broken queue from spinning the loop
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return fmt.Errorf("pop alert: %w", err)
	}
	if res == "" {
		return nil
	}

	var alert model.AlertPayload
	if err := json.Unmarshal([]byte(res), &alert); err != nil {
		return fmt.Errorf("unmarshal alert: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert for webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	log := w.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"kind":     alert.Kind,
		"status":   resp.StatusCode,
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("webhook rejected alert")
		return nil
	}
	log.Debug("alert delivered")
	return nil
}
