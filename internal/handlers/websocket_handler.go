package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"agentpay-backend/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketHandler manages WebSocket connections for transaction, approval
// and proposal push updates
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	upgrader    websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{
		pushService: pushService,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// wsClientMessage represents a client request over the socket
type wsClientMessage struct {
	Action  string `json:"action"` // "subscribe_wallet" or "ping"
	Address string `json:"address,omitempty"`
}

// HandleWebSocket upgrades the connection and serves push updates until the
// client disconnects. Clients subscribe to wallets after connecting.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentAddress := h.extractAgentFromToken(r)
	if agentAddress == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	messageChan := make(chan interface{}, 256)
	pongChan := make(chan map[string]interface{}, 10)

	h.pushService.RegisterClient(clientID, messageChan)
	defer h.pushService.UnregisterClient(clientID)

	log.Printf("📡 WebSocket client connected: %s (agent: %s)", clientID, agentAddress)

	conn.WriteJSON(map[string]interface{}{
		"type":      "connected",
		"client_id": clientID,
		"timestamp": time.Now(),
	})

	// Read loop in its own goroutine; all writes stay on this goroutine to
	// keep a single writer per connection.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			var msg wsClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("🔌 [WebSocket] Connection closed for client %s: %v", clientID, err)
				} else {
					log.Printf("⚠️ [WebSocket] Read error for client %s: %v", clientID, err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch msg.Action {
			case "ping":
				select {
				case pongChan <- map[string]interface{}{"type": "pong", "timestamp": time.Now()}:
				default:
				}
			case "subscribe_wallet":
				if msg.Address == "" {
					continue
				}
				h.pushService.SubscribeWallet(clientID, msg.Address)
				select {
				case messageChan <- map[string]interface{}{
					"type":      "subscription_confirmed",
					"address":   msg.Address,
					"timestamp": time.Now(),
				}:
				default:
				}
			default:
				log.Printf("⚠️ [WebSocket] Unknown action %q from client %s", msg.Action, clientID)
			}
		}
	}()

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case message, ok := <-messageChan:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(message); err != nil {
				log.Printf("❌ [WebSocket] Write error for client %s: %v", clientID, err)
				return
			}
		case pongMsg := <-pongChan:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(pongMsg); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

// extractAgentFromToken reads the JWT from the query string or Authorization
// header. Browsers cannot set headers on websocket upgrade, hence the query
// parameter fallback.
func (h *WebSocketHandler) extractAgentFromToken(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		return ""
	}

	claims, err := ValidateJWTToken(token)
	if err != nil {
		log.Printf("❌ JWT validation failed: %v", err)
		return ""
	}
	return claims.AgentAddress
}
