package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"agentpay-backend/internal/config"
	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// Generates an agent JWT signed with the configured secret, for API testing
// without going through the signature login flow.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	agent := flag.String("agent", "0x742d35cc6634c0532925a3b0f26750c66d78eb66", "agent address to embed in the token")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	agentAddress := utils.NormalizeAddress(*agent)
	now := time.Now()
	claims := dto.JWTClaims{
		AgentAddress: agentAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "agentpay-backend",
			Subject:   agentAddress,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(config.AppConfig.Auth.JWTSecret))
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Agent JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Printf("  Agent Address: %s\n", agentAddress)
	fmt.Printf("  Expires:       %s\n", claims.ExpiresAt.Time)
	fmt.Println()
	fmt.Printf("Usage: curl -H \"Authorization: Bearer %s\" http://localhost:8080/api/wallets\n", tokenString)
}
