package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedDelivery struct {
	event     string
	delivery  string
	timestamp string
	signature string
	body      []byte
}

// webhookSink is an httptest handler that records deliveries and can be
// scripted to fail the first N requests.
type webhookSink struct {
	mu        sync.Mutex
	failFirst int
	received  []receivedDelivery
}

func (w *webhookSink) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.received = append(w.received, receivedDelivery{
			event:     r.Header.Get("X-Webhook-Event"),
			delivery:  r.Header.Get("X-Webhook-Delivery"),
			timestamp: r.Header.Get("X-Webhook-Timestamp"),
			signature: r.Header.Get("X-Webhook-Signature"),
			body:      body,
		})
		if len(w.received) <= w.failFirst {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}
}

func (w *webhookSink) deliveries() []receivedDelivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]receivedDelivery, len(w.received))
	copy(out, w.received)
	return out
}

func newWebhookTestService() (*WebhookService, *[]time.Duration) {
	svc := NewWebhookService(repository.NewMemoryWebhookRepository(), 5*time.Second, time.Minute)
	var backoffs []time.Duration
	svc.sleep = func(d time.Duration) { backoffs = append(backoffs, d) }
	return svc, &backoffs
}

func subscribe(t *testing.T, svc *WebhookService, url string, mutate func(*models.WebhookSubscription)) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		URL:           url,
		SigningSecret: "whsec-test",
		MaxRetries:    3,
		BaseBackoffMs: 1000,
	}
	if mutate != nil {
		mutate(sub)
	}
	created, err := svc.CreateSubscription(context.Background(), sub)
	require.NoError(t, err)
	return created
}

func TestEmitDeliversSignedEvent(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, _ := newWebhookTestService()
	subscribe(t, svc, server.URL, nil)

	svc.Emit(context.Background(), WebhookEvent{
		Type:    models.EventTxConfirmed,
		Chain:   "sepolia",
		Payload: map[string]string{"hash": "0xabc"},
	})
	svc.Wait()

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTxConfirmed, got[0].event)
	assert.NotEmpty(t, got[0].delivery)

	// the receiver can recompute the signature from its shared secret
	expected := SignWebhookPayload("whsec-test", got[0].timestamp, got[0].body)
	assert.Equal(t, expected, got[0].signature)
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	sink := &webhookSink{failFirst: 100} // never succeeds
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, backoffs := newWebhookTestService()
	sub := subscribe(t, svc, server.URL, nil)

	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxFailed, Payload: "x"})
	svc.Wait()

	// maxRetries=3 means 4 total attempts, with doubling backoff between them
	require.Len(t, sink.deliveries(), 4)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, *backoffs)

	dead, err := svc.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, sub.ID, dead[0].SubscriptionID)
	assert.Equal(t, models.EventTxFailed, dead[0].EventType)
	assert.Equal(t, 4, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "status 500")
}

func TestRetrySucceedsMidway(t *testing.T) {
	sink := &webhookSink{failFirst: 2}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, backoffs := newWebhookTestService()
	subscribe(t, svc, server.URL, nil)

	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxPending, Payload: "x"})
	svc.Wait()

	require.Len(t, sink.deliveries(), 3)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *backoffs)

	dead, err := svc.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestBackoffIsCapped(t *testing.T) {
	sink := &webhookSink{failFirst: 100}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc := NewWebhookService(repository.NewMemoryWebhookRepository(), 5*time.Second, 3*time.Second)
	var backoffs []time.Duration
	svc.sleep = func(d time.Duration) { backoffs = append(backoffs, d) }

	subscribe(t, svc, server.URL, func(sub *models.WebhookSubscription) {
		sub.MaxRetries = 4
	})

	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxFailed, Payload: "x"})
	svc.Wait()

	// 1s, 2s, then capped at 3s instead of 4s and 8s
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, backoffs)
}

func TestSubscriptionFilters(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, _ := newWebhookTestService()
	subscribe(t, svc, server.URL, func(sub *models.WebhookSubscription) {
		sub.EventFilters = models.StringList{models.EventTxConfirmed}
		sub.ChainFilter = "sepolia"
	})

	// wrong event type
	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxPending, Chain: "sepolia", Payload: "x"})
	// wrong chain
	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxConfirmed, Chain: "mainnet", Payload: "x"})
	// both match
	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxConfirmed, Chain: "sepolia", Payload: "x"})
	svc.Wait()

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTxConfirmed, got[0].event)
}

func TestDeactivatedSubscriptionReceivesNothing(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, _ := newWebhookTestService()
	sub := subscribe(t, svc, server.URL, nil)
	require.NoError(t, svc.DeactivateSubscription(context.Background(), sub.ID))

	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxConfirmed, Payload: "x"})
	svc.Wait()

	assert.Empty(t, sink.deliveries())
}

func TestRedeliverDeadLetter(t *testing.T) {
	sink := &webhookSink{failFirst: 100}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	svc, _ := newWebhookTestService()
	subscribe(t, svc, server.URL, func(sub *models.WebhookSubscription) {
		sub.MaxRetries = 0
	})

	svc.Emit(context.Background(), WebhookEvent{Type: models.EventTxConfirmed, Payload: "x"})
	svc.Wait()

	dead, err := svc.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	// endpoint recovers
	sink.mu.Lock()
	sink.failFirst = 0
	sink.received = nil
	sink.mu.Unlock()

	require.NoError(t, svc.RedeliverDeadLetter(context.Background(), dead[0].ID))
	assert.Len(t, sink.deliveries(), 1)

	remaining, err := svc.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
