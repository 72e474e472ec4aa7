package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotSample is one persisted decision-cycle observation. Nullable
// columns cover categories that were exhausted that cycle.
type SnapshotSample struct {
	Bucket      time.Time
	USDToman    *decimal.Decimal
	EURToman    *decimal.Decimal
	GoldToman   *decimal.Decimal
	EURUSD      *decimal.Decimal
	TetherToman *decimal.Decimal
	Providers   []string
	Status      string
	Error       *string
	CreatedAt   time.Time
}

// BreachEventRecord captures an announced breach for auditing.
type BreachEventRecord struct {
	ID         int64
	Bucket     time.Time
	Instrument string
	Direction  string
	OldValue   decimal.Decimal
	NewValue   decimal.Decimal
	Providers  []string
	CreatedAt  time.Time
}
