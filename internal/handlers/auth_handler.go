package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"time"

	"agentpay-backend/internal/config"
	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthHandler agent 认证处理器
type AuthHandler struct{}

// use dto
type AuthRequest = dto.AuthRequest
type AuthResponse = dto.AuthResponse
type JWTClaims = dto.JWTClaims

// NewAuthHandler 创建认证处理器
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// jwtSecret 统一从配置读取
func jwtSecret() []byte {
	return []byte(config.AppConfig.Auth.JWTSecret)
}

// GenerateNonceHandler 下发待签名的 nonce 消息
// GET /api/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "failed to generate nonce",
		})
		return
	}

	nonceStr := hex.EncodeToString(nonce)
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("agentpay login\nnonce: %s\ntimestamp: %d", nonceStr, timestamp)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"nonce":     nonceStr,
		"message":   message,
		"timestamp": timestamp,
	})
}

// AuthenticateHandler agent 登录：钱包签名换 JWT
// POST /api/auth/login
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	agentAddress := utils.NormalizeAddress(req.AgentAddress)
	if !utils.IsEvmAddress(agentAddress) {
		c.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: "invalid agent address",
		})
		return
	}

	if !h.validateSignature(agentAddress, req.Message, req.Signature) {
		c.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Message: "signature verification failed",
		})
		return
	}

	token, err := h.generateJWTToken(agentAddress)
	if err != nil {
		log.Printf("❌ Failed to generate JWT for %s: %v", agentAddress, err)
		c.JSON(http.StatusInternalServerError, AuthResponse{
			Success: false,
			Message: "failed to issue token",
		})
		return
	}

	log.Printf("✅ Agent authenticated: %s", agentAddress)
	c.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Token:   token,
		Message: "login successful",
	})
}

// validateSignature 校验 EIP-191 personal_sign 签名是否出自 agentAddress
func (h *AuthHandler) validateSignature(agentAddress, message, signature string) bool {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return false
	}
	// MetaMask 风格的 v 值是 27/28，恢复公钥要求 0/1
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}

	recovered := utils.NormalizeAddress(crypto.PubkeyToAddress(*pubKey).Hex())
	return recovered == agentAddress
}

// generateJWTToken 签发 agent JWT
func (h *AuthHandler) generateJWTToken(agentAddress string) (string, error) {
	claims := JWTClaims{
		AgentAddress: agentAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "agentpay-backend",
			Subject:   agentAddress,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWTToken 验证 agent JWT（中间件使用）
func ValidateJWTToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token claims")
}
