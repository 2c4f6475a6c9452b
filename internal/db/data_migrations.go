package db

import (
	"log"

	"gorm.io/gorm"
)

// normalizeAddressCasing lowercases every stored address column. Lookups and
// uniqueness assume the lowercased form, so mixed-case rows from old clients
// would otherwise be unreachable.
func normalizeAddressCasing(db *gorm.DB) error {
	statements := []struct {
		table string
		query string
	}{
		{"wallets", `UPDATE wallets SET address = LOWER(address) WHERE address <> LOWER(address)`},
		{"policies", `UPDATE policies SET wallet_address = LOWER(wallet_address) WHERE wallet_address <> LOWER(wallet_address)`},
		{"policy_usages", `UPDATE policy_usages SET wallet_address = LOWER(wallet_address) WHERE wallet_address <> LOWER(wallet_address)`},
		{"approval_requests", `UPDATE approval_requests SET from_address = LOWER(from_address), to_address = LOWER(to_address) WHERE from_address <> LOWER(from_address) OR to_address <> LOWER(to_address)`},
		{"transactions", `UPDATE transactions SET from_address = LOWER(from_address), to_address = LOWER(to_address) WHERE from_address <> LOWER(from_address) OR to_address <> LOWER(to_address)`},
		{"multisig_configs", `UPDATE multisig_configs SET wallet_address = LOWER(wallet_address) WHERE wallet_address <> LOWER(wallet_address)`},
		{"multisig_proposals", `UPDATE multisig_proposals SET wallet_address = LOWER(wallet_address) WHERE wallet_address <> LOWER(wallet_address)`},
	}

	for _, stmt := range statements {
		if !db.Migrator().HasTable(stmt.table) {
			continue
		}
		result := db.Exec(stmt.query)
		if result.Error != nil {
			log.Printf("❌ Failed to normalize %s: %v", stmt.table, result.Error)
			return result.Error
		}
		if result.RowsAffected > 0 {
			log.Printf("✅ Normalized %d rows in %s", result.RowsAffected, stmt.table)
		}
	}

	return nil
}
