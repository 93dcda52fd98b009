// Package webhooks delivers lifecycle events to configured HTTP endpoints
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/northhollow/keel/internal/config"
	"github.com/northhollow/keel/internal/events"
)

const (
	deliveryQueueSize  = 1000
	deliveryTimeout    = 30 * time.Second
	historySize        = 100
	defaultWorkerCount = 2
)

// Endpoint is one configured webhook destination
type Endpoint struct {
	ID     string
	URL    string
	Secret string               // HMAC key; empty disables signing
	Events map[events.Type]bool // empty set subscribes to everything
}

// Payload is the JSON body posted to an endpoint
type Payload struct {
	Event      events.Type    `json:"event"`
	Timestamp  int64          `json:"timestamp"`
	DeliveryID string         `json:"delivery_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// DeliveryResult records one delivery attempt
type DeliveryResult struct {
	EndpointID string      `json:"endpoint_id"`
	DeliveryID string      `json:"delivery_id"`
	Event      events.Type `json:"event"`
	StatusCode int         `json:"status_code,omitempty"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Timestamp  int64       `json:"timestamp"`
}

type deliveryTask struct {
	endpoint *Endpoint
	payload  *Payload
}

// Manager fans events out to endpoints through a bounded worker pool.
// Delivery is best-effort: a slow or dead endpoint drops events rather than
// backing up into the jobs that produce them.
type Manager struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	client    *http.Client
	delivery  chan *deliveryTask
	stopCh    chan struct{}
	wg        sync.WaitGroup

	historyMu  sync.Mutex
	history    []*DeliveryResult
	historyPos int
}

// NewManager creates a manager with the endpoints from configuration
func NewManager(cfgs []config.WebhookConfig) *Manager {
	m := &Manager{
		endpoints: make(map[string]*Endpoint),
		client:    &http.Client{Timeout: deliveryTimeout},
		delivery:  make(chan *deliveryTask, deliveryQueueSize),
		stopCh:    make(chan struct{}),
		history:   make([]*DeliveryResult, 0, historySize),
	}
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		ep := &Endpoint{
			ID:     uuid.New().String(),
			URL:    c.URL,
			Secret: c.Secret,
			Events: make(map[events.Type]bool, len(c.Events)),
		}
		for _, e := range c.Events {
			ep.Events[events.Type(e)] = true
		}
		m.endpoints[ep.ID] = ep
	}
	return m
}

// Start launches the delivery workers and, when bus is non-nil, a bridge
// goroutine that forwards every bus event into delivery.
func (m *Manager) Start(bus *events.Bus) {
	for i := 0; i < defaultWorkerCount; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	if bus != nil {
		ch := bus.Subscribe("webhooks")
		m.wg.Add(1)
		go m.bridge(bus, ch)
	}
	log.Info().Int("endpoints", len(m.endpoints)).Msg("webhook delivery started")
}

// Stop drains the workers. Queued deliveries that have not started are
// discarded.
func (m *Manager) Stop(ctx context.Context) error {
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit queues the event for every subscribed endpoint
func (m *Manager) Emit(event events.Type, data map[string]any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ep := range m.endpoints {
		if len(ep.Events) > 0 && !ep.Events[event] {
			continue
		}
		task := &deliveryTask{
			endpoint: ep,
			payload: &Payload{
				Event:      event,
				Timestamp:  time.Now().Unix(),
				DeliveryID: uuid.New().String(),
				Data:       data,
			},
		}
		select {
		case m.delivery <- task:
		default:
			log.Warn().Str("endpoint", ep.URL).Msg("webhook queue full, dropping delivery")
		}
	}
}

// History returns up to limit recent delivery results, oldest first
func (m *Manager) History(limit int) []*DeliveryResult {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]*DeliveryResult, limit)
	start := (m.historyPos - limit + len(m.history)) % max(len(m.history), 1)
	for i := 0; i < limit; i++ {
		out[i] = m.history[(start+i)%len(m.history)]
	}
	return out
}

func (m *Manager) bridge(bus *events.Bus, ch chan events.Event) {
	defer m.wg.Done()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Emit(ev.Type, ev.Data)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case task := <-m.delivery:
			m.deliver(task)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) deliver(task *deliveryTask) {
	start := time.Now()
	result := &DeliveryResult{
		EndpointID: task.endpoint.ID,
		DeliveryID: task.payload.DeliveryID,
		Event:      task.payload.Event,
		Timestamp:  start.Unix(),
	}
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
		m.record(result)
	}()

	body, err := json.Marshal(task.payload)
	if err != nil {
		result.Error = fmt.Sprintf("marshaling payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, task.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("building request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "keel-webhooks/1.0")
	req.Header.Set("X-Keel-Delivery", task.payload.DeliveryID)
	req.Header.Set("X-Keel-Event", string(task.payload.Event))
	if task.endpoint.Secret != "" {
		req.Header.Set("X-Keel-Signature", "sha256="+Sign(body, task.endpoint.Secret))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		log.Warn().Err(err).Str("url", task.endpoint.URL).
			Str("event", string(task.payload.Event)).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		log.Warn().Int("status", resp.StatusCode).Str("url", task.endpoint.URL).
			Str("event", string(task.payload.Event)).Msg("webhook delivery rejected")
		return
	}
	log.Debug().Str("url", task.endpoint.URL).Str("event", string(task.payload.Event)).
		Msg("webhook delivered")
}

func (m *Manager) record(result *DeliveryResult) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	if len(m.history) < historySize {
		m.history = append(m.history, result)
		return
	}
	m.history[m.historyPos] = result
	m.historyPos = (m.historyPos + 1) % historySize
}

// Sign computes the hex HMAC-SHA256 of payload under secret
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature in constant time
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}
