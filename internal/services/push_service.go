package services

import (
	"log"
	"sync"

	"agentpay-backend/internal/models"
	"agentpay-backend/internal/utils"
)

// PushMessage is the envelope sent to websocket clients
type PushMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsClient represents one connected websocket client
type wsClient struct {
	clientID    string
	messageChan chan interface{}
	wallets     map[string]bool // subscribed wallet addresses, empty = none
	mu          sync.RWMutex
}

// WebSocketPushService pushes transaction and approval updates to connected
// clients, indexed by wallet address for fast fan-out.
type WebSocketPushService struct {
	clients map[string]*wsClient
	// wallet address -> clientID set
	walletSubscriptions map[string]map[string]bool
	mu                  sync.RWMutex
}

// NewWebSocketPushService creates a new push service
func NewWebSocketPushService() *WebSocketPushService {
	return &WebSocketPushService{
		clients:             make(map[string]*wsClient),
		walletSubscriptions: make(map[string]map[string]bool),
	}
}

// RegisterClient registers a new client connection
func (s *WebSocketPushService) RegisterClient(clientID string, messageChan chan interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = &wsClient{
		clientID:    clientID,
		messageChan: messageChan,
		wallets:     make(map[string]bool),
	}
}

// UnregisterClient removes a client and all its subscriptions
func (s *WebSocketPushService) UnregisterClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.clients[clientID]
	if !exists {
		return
	}
	delete(s.clients, clientID)

	for wallet := range client.wallets {
		if set, ok := s.walletSubscriptions[wallet]; ok {
			delete(set, clientID)
			if len(set) == 0 {
				delete(s.walletSubscriptions, wallet)
			}
		}
	}
}

// SubscribeWallet subscribes a client to updates for one wallet address
func (s *WebSocketPushService) SubscribeWallet(clientID, walletAddress string) {
	walletAddress = utils.NormalizeAddress(walletAddress)

	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.clients[clientID]
	if !exists {
		return
	}
	client.wallets[walletAddress] = true

	if s.walletSubscriptions[walletAddress] == nil {
		s.walletSubscriptions[walletAddress] = make(map[string]bool)
	}
	s.walletSubscriptions[walletAddress][clientID] = true
}

// PushTransactionUpdate fans a transaction state change out to subscribers of
// either side of the transfer
func (s *WebSocketPushService) PushTransactionUpdate(tx *models.Transaction) {
	clientIDs := s.clientsForWallets(tx.FromAddress, tx.ToAddress)
	s.send(clientIDs, PushMessage{Type: "transaction_update", Data: tx})
}

// PushApprovalUpdate fans an approval state change out to wallet subscribers
func (s *WebSocketPushService) PushApprovalUpdate(approval *models.ApprovalRequest) {
	clientIDs := s.clientsForWallets(approval.FromAddress)
	s.send(clientIDs, PushMessage{Type: "approval_update", Data: approval})
}

// PushProposalUpdate fans a proposal state change out to wallet subscribers
func (s *WebSocketPushService) PushProposalUpdate(proposal *models.MultisigProposal) {
	clientIDs := s.clientsForWallets(proposal.WalletAddress)
	s.send(clientIDs, PushMessage{Type: "proposal_update", Data: proposal})
}

func (s *WebSocketPushService) clientsForWallets(wallets ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var clientIDs []string
	for _, wallet := range wallets {
		for clientID := range s.walletSubscriptions[utils.NormalizeAddress(wallet)] {
			if !seen[clientID] {
				seen[clientID] = true
				clientIDs = append(clientIDs, clientID)
			}
		}
	}
	return clientIDs
}

// send delivers a message to clients without blocking on slow consumers
func (s *WebSocketPushService) send(clientIDs []string, message PushMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, clientID := range clientIDs {
		client, exists := s.clients[clientID]
		if !exists {
			continue
		}
		select {
		case client.messageChan <- message:
		default:
			log.Printf("⚠️ [Push] Client %s message channel full, dropping message", clientID)
		}
	}
}
