package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

type Engine struct {
	cfg        Config
	httpClient *http.Client
	queue      chan *deliveryTask
	enabled    bool
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	mu         sync.RWMutex
	closed     bool
	onDelivery func(DeliveryLog)
}

type deliveryTask struct {
	url   string
	event WebhookEvent
}

func NewEngine(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		queue:      make(chan *deliveryTask, cfg.QueueSize),
		enabled:    len(cfg.URLs) > 0,
		ctx:        ctx,
		cancel:     cancel,
	}

	if engine.enabled {
		for i := 0; i < cfg.Workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}

	return engine
}

// OnDelivery registers a callback invoked after every delivery outcome.
func (e *Engine) OnDelivery(fn func(DeliveryLog)) {
	e.mu.Lock()
	e.onDelivery = fn
	e.mu.Unlock()
}

func (e *Engine) Enabled() bool {
	return e.enabled
}

// Shutdown stops accepting events and lets the workers deliver what is
// already queued. Deliveries still running after DrainTimeout are cancelled.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(drained)
		}()

		timer := time.NewTimer(e.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-drained:
		case <-timer.C:
			log.Print(nil).WithField("pending", len(e.queue)).Warn("Webhook drain timed out, cancelling deliveries")
			e.cancel()
			<-drained
		}
		e.cancel()
	})
}

// Notify queues a lifecycle event for every configured target.
func (e *Engine) Notify(ctx context.Context, event string, data map[string]interface{}) {
	e.Dispatch(ctx, WebhookEvent{
		ID:        uuid.NewString(),
		EventType: EventType(event),
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (e *Engine) Dispatch(ctx context.Context, event WebhookEvent) {
	if !e.enabled || !e.shouldDispatch(event.EventType) {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	dispatched := 0
	for _, target := range e.cfg.URLs {
		select {
		case <-ctx.Done():
			return
		case e.queue <- &deliveryTask{url: target, event: event}:
			dispatched++
		default:
			log.Print(nil).WithField("event", string(event.EventType)).Warn("Webhook queue full, dropping event")
		}
	}

	if dispatched > 0 {
		log.Print(nil).WithField("event", string(event.EventType)).WithField("targets", dispatched).Debug("Webhook event queued")
	}
}

func (e *Engine) shouldDispatch(eventType EventType) bool {
	if len(e.cfg.Events) == 0 {
		return true
	}
	for _, evt := range e.cfg.Events {
		if evt == eventType {
			return true
		}
	}
	return false
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		if e.ctx.Err() != nil {
			return
		}
		e.deliver(task)
	}
}

func (e *Engine) deliver(task *deliveryTask) {
	if err := e.validateURL(task.url); err != nil {
		e.record(task, DeliveryFailed, 0, err.Error())
		return
	}

	payload, err := json.Marshal(task.event)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to marshal webhook event")
		return
	}

	signature := e.generateSignature(payload, e.cfg.Secret)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryLimit; attempt++ {
		req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			break
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Hub-Signature-256", signature)
		req.Header.Set("X-Webhook-Event", string(task.event.EventType))
		req.Header.Set("X-Webhook-ID", task.event.ID)
		req.Header.Set("User-Agent", "WhatsApp-Echo-Bot/1.0")

		resp, err := e.httpClient.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				e.record(task, DeliverySuccess, attempt, "")
				return
			}
			err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		lastErr = err

		if attempt < e.cfg.RetryLimit && !e.sleep(time.Duration(attempt)*e.cfg.RetryDelay) {
			break
		}
	}

	errorMsg := ""
	if lastErr != nil {
		errorMsg = lastErr.Error()
	}
	e.record(task, DeliveryFailed, e.cfg.RetryLimit, errorMsg)
}

func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) record(task *deliveryTask, status DeliveryStatus, attempts int, lastErr string) {
	entry := log.Print(nil).
		WithField("event", string(task.event.EventType)).
		WithField("event_id", task.event.ID).
		WithField("attempts", attempts)
	if status == DeliverySuccess {
		entry.Info("Webhook delivered")
	} else {
		entry.WithField("error", lastErr).Warn("Webhook delivery failed")
	}

	e.mu.RLock()
	onDelivery := e.onDelivery
	e.mu.RUnlock()

	if onDelivery != nil {
		onDelivery(DeliveryLog{
			EventID:      task.event.ID,
			URL:          task.url,
			EventType:    task.event.EventType,
			Status:       status,
			AttemptCount: attempts,
			LastError:    lastErr,
		})
	}
}

func (e *Engine) generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	if e.cfg.AllowPrivate {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("only HTTP(S) URLs are allowed")
		}
		return nil
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" {
		return fmt.Errorf("private/local network URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()) {
		return fmt.Errorf("private/local network URLs are not allowed")
	}

	return nil
}
