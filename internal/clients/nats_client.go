package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"agentpay-backend/internal/config"
	"agentpay-backend/internal/metrics"

	"github.com/nats-io/nats.go"
)

// NATSClient NATS client
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient 创建NATS客户端
func NewNATSClient(url string) (*NATSClient, error) {
	// 获取配置的超时时间（如果配置了）
	var connectTimeout time.Duration = 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.Timeout > 0 {
		connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
		log.Printf("🔌 Using configured NATS timeout: %v", connectTimeout)
	} else {
		log.Printf("🔌 Using default NATS timeout: %v", connectTimeout)
	}

	reconnectWait := 5 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.ReconnectWait > 0 {
		reconnectWait = time.Duration(config.AppConfig.NATS.ReconnectWait) * time.Second
	}

	maxReconnects := -1
	if config.AppConfig != nil && config.AppConfig.NATS.MaxReconnects != 0 {
		maxReconnects = config.AppConfig.NATS.MaxReconnects
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ NATS client connected: %s", url)

	return &NATSClient{conn: conn}, nil
}

// Publish 发布JSON消息到指定subject
func (c *NATSClient) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

// Close connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// GetConnection 获取NATS连接
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
