package orders

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NewOrderNumber builds the human-facing order number, ORD-<unix-ms>-<4 digits>.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%04d", now.UnixMilli(), rand.IntN(10000))
}
