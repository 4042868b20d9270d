package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-settlement/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestOrdersMigrationContainsSettlementConstraints(t *testing.T) {
	content := readMigration(t, "create_orders")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT ux_orders_order_number UNIQUE (order_number)",
		"CHECK (payable_cents = GREATEST(subtotal_cents - discount_cents, 0))",
		"commission_platform_cents + commission_vendor_cents = subtotal_cents",
		"commission_wallet_credited boolean NOT NULL DEFAULT false",
		"status_history jsonb NOT NULL",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestWalletMigrationEnforcesLedgerInvariants(t *testing.T) {
	content := readMigration(t, "create_vendor_wallets")
	assertContains(t, content, []string{
		"CONSTRAINT ux_vendor_wallets_vendor UNIQUE (vendor_id)",
		"CHECK (balance_cents >= 0)",
		"CHECK (hold_balance_cents >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_tx_order_type_kind",
		"ON wallet_transactions (order_id, type, kind)",
		"BEFORE UPDATE OR DELETE ON wallet_transactions",
		"DROP TABLE IF EXISTS wallet_transactions",
	})
}

func TestCommissionMigrationGuardsSingleton(t *testing.T) {
	content := readMigration(t, "create_commission_configs")
	assertContains(t, content, []string{
		"CONSTRAINT ux_commission_configs_scope UNIQUE (scope)",
		"CHECK (rate >= 0 AND rate <= 100)",
		"CREATE TABLE IF NOT EXISTS vendor_commission_overrides",
	})
}

func TestEnumMigrationMatchesEventTypes(t *testing.T) {
	content := readMigration(t, "create_settlement_enums")
	assertContains(t, content, []string{
		"CREATE TYPE order_status_enum AS ENUM ('pending', 'confirmed', 'packed', 'processing', 'shipped', 'delivered', 'cancelled', 'returned')",
		"'commission_credited'",
		"'commission_reversed'",
		"'withdrawal_paid'",
		"EXCEPTION WHEN duplicate_object THEN NULL",
	})
}

func TestPaymentRefundMigrationMirrorsOrderRefundColumns(t *testing.T) {
	content := readMigration(t, "add_payment_refunds")
	assertContains(t, content, []string{
		"ADD COLUMN IF NOT EXISTS refund_status refund_status_enum NOT NULL DEFAULT 'not_required'",
		"ADD COLUMN IF NOT EXISTS refund_gateway_ref text",
		"ADD COLUMN IF NOT EXISTS refund_attempts integer NOT NULL DEFAULT 0",
		"CREATE INDEX IF NOT EXISTS ix_payments_refund_pending",
		"DROP COLUMN IF EXISTS refund_status",
	})
}
