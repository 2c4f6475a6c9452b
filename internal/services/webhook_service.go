package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"agentpay-backend/internal/metrics"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"

	"github.com/google/uuid"
)

// WebhookEvent 待投递的事件
type WebhookEvent struct {
	Type    string      `json:"type"`
	Chain   string      `json:"chain,omitempty"`
	Payload interface{} `json:"payload"`
}

// WebhookService webhook 通知服务
// 向订阅方至少一次投递签名事件，指数退避重试，耗尽后写入死信
type WebhookService struct {
	repo       repository.WebhookRepository
	httpClient *http.Client
	maxBackoff time.Duration
	sleep      func(time.Duration) // 重试间隔原语，测试中可替换为假时钟
	wg         sync.WaitGroup
}

// NewWebhookService 创建webhook服务
func NewWebhookService(repo repository.WebhookRepository, timeout, maxBackoff time.Duration) *WebhookService {
	return &WebhookService{
		repo:       repo,
		httpClient: &http.Client{Timeout: timeout},
		maxBackoff: maxBackoff,
		sleep:      time.Sleep,
	}
}

// CreateSubscription 创建订阅
func (s *WebhookService) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) (*models.WebhookSubscription, error) {
	if sub.URL == "" {
		return nil, fmt.Errorf("subscription url is required")
	}
	if sub.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	if sub.MaxRetries < 0 {
		return nil, fmt.Errorf("maxRetries must be non-negative")
	}

	sub.ID = uuid.New().String()
	sub.Active = true
	if sub.BaseBackoffMs <= 0 {
		sub.BaseBackoffMs = 1000
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	log.Printf("✅ [Webhook] Subscription created: id=%s, url=%s, maxRetries=%d", sub.ID, sub.URL, sub.MaxRetries)
	return sub, nil
}

// GetSubscription 按 ID 获取订阅
func (s *WebhookService) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("subscription %s not found", id)
		}
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions 列出全部订阅
func (s *WebhookService) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	return s.repo.ListSubscriptions(ctx)
}

// DeactivateSubscription 停用订阅
func (s *WebhookService) DeactivateSubscription(ctx context.Context, id string) error {
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Active = false
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	log.Printf("🛑 [Webhook] Subscription deactivated: id=%s", id)
	return nil
}

// Emit 向所有匹配的活跃订阅投递事件
// 每个订阅独立并行投递，单个订阅失败不影响其他订阅和调用方
func (s *WebhookService) Emit(ctx context.Context, event WebhookEvent) {
	subs, err := s.repo.ListActiveSubscriptions(ctx)
	if err != nil {
		log.Printf("❌ [Webhook] Failed to list subscriptions: %v", err)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ [Webhook] Failed to marshal event %s: %v", event.Type, err)
		return
	}

	for _, sub := range subs {
		if !sub.Matches(event.Type, event.Chain) {
			continue
		}

		s.wg.Add(1)
		go func(sub *models.WebhookSubscription) {
			defer s.wg.Done()
			s.deliverWithRetry(sub, event.Type, body)
		}(sub)
	}
}

// Wait 等待所有在途投递完成，测试与优雅停机使用
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

// deliverWithRetry 对单个订阅投递事件
// 显式重试循环：首次尝试加 maxRetries 次重试，退避 base×2^(attempt−1) 封顶
func (s *WebhookService) deliverWithRetry(sub *models.WebhookSubscription, eventType string, body []byte) {
	deliveryID := uuid.New().String()
	totalAttempts := sub.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(sub.BaseBackoffMs) * time.Millisecond << (attempt - 2)
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			s.sleep(backoff)
		}

		lastErr = s.deliverOnce(sub, eventType, deliveryID, body)
		if lastErr == nil {
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			log.Printf("✅ [Webhook] Delivered %s to %s (attempt %d)", eventType, sub.URL, attempt)
			return
		}

		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.Printf("⚠️ [Webhook] Delivery attempt %d/%d failed for %s: %v", attempt, totalAttempts, sub.URL, lastErr)
	}

	s.deadLetter(sub, eventType, deliveryID, body, totalAttempts, lastErr)
}

// deliverOnce 执行单次 HTTP 投递
func (s *WebhookService) deliverOnce(sub *models.WebhookSubscription, eventType, deliveryID string, body []byte) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := SignWebhookPayload(sub.SigningSecret, timestamp, body)

	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	req.Header.Set("X-Webhook-Timestamp", timestamp)
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}

// SignWebhookPayload 计算投递签名：HMAC-SHA256(secret, timestamp + "." + body)
func SignWebhookPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// deadLetter 重试耗尽后写入死信记录，供人工检查
func (s *WebhookService) deadLetter(sub *models.WebhookSubscription, eventType, deliveryID string, body []byte, attempts int, lastErr error) {
	lastError := ""
	if lastErr != nil {
		lastError = lastErr.Error()
	}

	dl := &models.WebhookDeadLetter{
		ID:             deliveryID,
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		EventType:      eventType,
		Payload:        string(body),
		Attempts:       attempts,
		LastError:      lastError,
	}

	if err := s.repo.CreateDeadLetter(context.Background(), dl); err != nil {
		log.Printf("❌ [Webhook] Failed to write dead letter for %s: %v", sub.URL, err)
		return
	}

	metrics.WebhookDeadLetters.Inc()
	log.Printf("📋 [Webhook] Dead-lettered %s for %s after %d attempts: %s", eventType, sub.URL, attempts, lastError)
}

// ListDeadLetters 列出死信记录
func (s *WebhookService) ListDeadLetters(ctx context.Context, limit int) ([]*models.WebhookDeadLetter, error) {
	return s.repo.ListDeadLetters(ctx, limit)
}

// RedeliverDeadLetter 手动重投死信，成功后删除记录
func (s *WebhookService) RedeliverDeadLetter(ctx context.Context, id string) error {
	dl, err := s.repo.GetDeadLetter(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("dead letter %s not found", id)
		}
		return err
	}

	sub, err := s.GetSubscription(ctx, dl.SubscriptionID)
	if err != nil {
		return err
	}

	if err := s.deliverOnce(sub, dl.EventType, dl.ID, []byte(dl.Payload)); err != nil {
		return fmt.Errorf("redelivery failed: %w", err)
	}

	if err := s.repo.DeleteDeadLetter(ctx, id); err != nil {
		return fmt.Errorf("failed to remove dead letter: %w", err)
	}

	log.Printf("✅ [Webhook] Dead letter redelivered and removed: id=%s", id)
	return nil
}
