package db

import (
	"log"

	"agentpay-backend/internal/config"
	"agentpay-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	log.Printf("Connecting to database: %s", dsn)

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		DisableAutomaticPing:                     true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	log.Println("✅ Database connected successfully")

	// Address columns are compared lowercase everywhere; normalize rows written
	// before normalization was enforced at the API boundary.
	log.Println("🔧 Normalizing address casing...")
	if err := normalizeAddressCasing(DB); err != nil {
		log.Printf("⚠️ Failed to normalize address casing: %v", err)
		log.Println("⚠️ Attempting to continue with migration anyway...")
	}

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")

	if err := DB.AutoMigrate(
		&models.Wallet{},
		&models.Policy{},
		&models.PolicyUsage{},
		&models.ApprovalRequest{},
		&models.Transaction{},
		&models.MultisigConfig{},
		&models.MultisigProposal{},
		&models.WebhookSubscription{},
		&models.WebhookDeadLetter{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("✅ Database schema migrated successfully")
}
