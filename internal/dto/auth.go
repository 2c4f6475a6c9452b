package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// AuthRequest agent 登录请求：用钱包私钥对 nonce 消息签名换取 JWT
type AuthRequest struct {
	AgentAddress string `json:"agent_address" binding:"required"` // agent wallet address
	Message      string `json:"message" binding:"required"`       // nonce message that was signed
	Signature    string `json:"signature" binding:"required"`     // hex EIP-191 personal_sign signature
}

// AuthResponse 登录响应
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// JWTClaims agent JWT claims
type JWTClaims struct {
	AgentAddress string `json:"agent_address"` // wallet address, lowercase
	jwt.RegisteredClaims
}

// AdminLoginRequest 管理员登录请求
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse 管理员登录响应
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims 管理员 JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
