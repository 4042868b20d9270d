package registry

import (
	"encoding/json"
	"testing"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventRefundCompleted, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded payloads.RefundCompletedEvent
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"reference":"REF-1-abc","amount_cents":2500}`)
	output, err := reg.Decode(enums.EventRefundCompleted, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refund, ok := output.(payloads.RefundCompletedEvent)
	if !ok || refund.Reference != "REF-1-abc" || refund.AmountCents != 2500 {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventRefundCompleted, 2, input); err == nil {
		t.Fatalf("expected error for unregistered version")
	}
}
