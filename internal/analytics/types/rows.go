package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. Money columns are cents.
type SettlementEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	AggregateType string             `bigquery:"aggregate_type"`
	AggregateID   string             `bigquery:"aggregate_id"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       *string            `bigquery:"order_id"`
	VendorID      *string            `bigquery:"vendor_id"`
	Status        *string            `bigquery:"status"`
	Reference     *string            `bigquery:"reference"`
	AmountCents   *int64             `bigquery:"amount_cents"`
	PlatformCents *int64             `bigquery:"platform_cents"`
	VendorCents   *int64             `bigquery:"vendor_cents"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}
