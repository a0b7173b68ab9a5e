package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDelivery(t *testing.T, ch <-chan DeliveryLog) DeliveryLog {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return DeliveryLog{}
	}
}

func TestEngineDeliversSignedEvent(t *testing.T) {
	const secret = "s3cr3t"
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	engine := NewEngine(Config{URLs: []string{srv.URL}, Secret: secret, Workers: 1, AllowPrivate: true})
	defer engine.Shutdown()
	deliveries := make(chan DeliveryLog, 1)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventConnectionOpen), map[string]interface{}{"jid": "111@s.whatsapp.net"})

	d := waitDelivery(t, deliveries)
	assert.Equal(t, DeliverySuccess, d.Status)
	assert.Equal(t, 1, d.AttemptCount)

	r := <-received
	body := <-bodies
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-Webhook-Signature"))
	assert.Equal(t, string(EventConnectionOpen), r.Header.Get("X-Webhook-Event"))

	var event WebhookEvent
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventConnectionOpen, event.EventType)
	assert.Equal(t, d.EventID, event.ID)
	assert.Equal(t, "111@s.whatsapp.net", event.Data["jid"])
}

func TestEngineRetriesThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	engine := NewEngine(Config{
		URLs:         []string{srv.URL},
		Workers:      1,
		RetryLimit:   3,
		RetryDelay:   time.Millisecond,
		AllowPrivate: true,
	})
	defer engine.Shutdown()
	deliveries := make(chan DeliveryLog, 1)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventSessionHalted), nil)

	d := waitDelivery(t, deliveries)
	assert.Equal(t, DeliveryFailed, d.Status)
	assert.Equal(t, 3, d.AttemptCount)
	assert.Contains(t, d.LastError, "HTTP 502")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestEngineEventFilter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	engine := NewEngine(Config{
		URLs:         []string{srv.URL},
		Events:       []EventType{EventSessionHalted},
		Workers:      1,
		AllowPrivate: true,
	})
	deliveries := make(chan DeliveryLog, 2)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventMessageReceived), nil)
	engine.Notify(context.Background(), string(EventSessionHalted), nil)

	d := waitDelivery(t, deliveries)
	assert.Equal(t, EventSessionHalted, d.EventType)
	engine.Shutdown()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEngineRejectsPrivateTargets(t *testing.T) {
	engine := NewEngine(Config{URLs: []string{"http://127.0.0.1:9/hook"}, Workers: 1})
	defer engine.Shutdown()
	deliveries := make(chan DeliveryLog, 1)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventConnectionClosed), nil)

	d := waitDelivery(t, deliveries)
	assert.Equal(t, DeliveryFailed, d.Status)
	assert.Equal(t, 0, d.AttemptCount)
}

func TestValidateURL(t *testing.T) {
	e := &Engine{}
	assert.NoError(t, e.validateURL("https://hooks.example.com/wa"))
	assert.Error(t, e.validateURL("http://hooks.example.com/wa"))
	assert.Error(t, e.validateURL("https://localhost/wa"))
	assert.Error(t, e.validateURL("https://10.0.0.8/wa"))
	assert.Error(t, e.validateURL("https://192.168.1.2/wa"))
}

func TestDisabledEngineIgnoresEvents(t *testing.T) {
	engine := NewEngine(Config{})
	assert.False(t, engine.Enabled())
	engine.Notify(context.Background(), string(EventConnectionOpen), nil)
	engine.Shutdown()
	engine.Notify(context.Background(), string(EventConnectionOpen), nil)
}

func TestShutdownDeliversQueuedEvents(t *testing.T) {
	received := make(chan EventType, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		received <- EventType(r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine := NewEngine(Config{URLs: []string{srv.URL}, Workers: 1, AllowPrivate: true})
	deliveries := make(chan DeliveryLog, 1)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventSessionHalted), map[string]interface{}{"reason": "logged-out"})
	engine.Shutdown()

	select {
	case d := <-deliveries:
		assert.Equal(t, DeliverySuccess, d.Status)
		assert.Equal(t, EventSessionHalted, d.EventType)
	default:
		t.Fatal("queued event was not delivered before Shutdown returned")
	}
	assert.Equal(t, EventSessionHalted, <-received)
}

func TestShutdownDrainTimeoutCancelsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	engine := NewEngine(Config{
		URLs:         []string{srv.URL},
		Workers:      1,
		RetryLimit:   1,
		DrainTimeout: 50 * time.Millisecond,
		AllowPrivate: true,
	})
	deliveries := make(chan DeliveryLog, 1)
	engine.OnDelivery(func(d DeliveryLog) { deliveries <- d })

	engine.Notify(context.Background(), string(EventConnectionClosed), nil)

	start := time.Now()
	engine.Shutdown()
	assert.Less(t, time.Since(start), 5*time.Second)

	d := waitDelivery(t, deliveries)
	assert.Equal(t, DeliveryFailed, d.Status)
	assert.Contains(t, d.LastError, "context canceled")

	engine.Notify(context.Background(), string(EventConnectionOpen), nil)
}

func TestOnDeliveryReplacedWhileDelivering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine := NewEngine(Config{URLs: []string{srv.URL}, Workers: 4, AllowPrivate: true})

	var calls int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			engine.OnDelivery(func(DeliveryLog) { atomic.AddInt32(&calls, 1) })
		}
	}()
	for i := 0; i < 20; i++ {
		engine.Notify(context.Background(), string(EventConnectionOpen), nil)
	}
	<-done
	engine.Shutdown()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(20))
}
