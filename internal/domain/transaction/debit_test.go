package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebitResult(t *testing.T) {
	tests := []struct {
		name        string
		result      DebitResult
		wantOutcome DebitOutcome
		wantBalance int64
		wantString  string
	}{
		{
			name:        "正常系: Applied",
			result:      Applied(4, "txn_1"),
			wantOutcome: DebitApplied,
			wantBalance: 4,
			wantString:  "applied",
		},
		{
			name:        "正常系: InsufficientFunds",
			result:      InsufficientFunds(3),
			wantOutcome: DebitInsufficientFunds,
			wantBalance: 3,
			wantString:  "insufficient",
		},
		{
			name:        "正常系: PrimitiveUnavailable",
			result:      PrimitiveUnavailable(),
			wantOutcome: DebitPrimitiveUnavailable,
			wantBalance: 0,
			wantString:  "primitive_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOutcome, tt.result.Outcome)
			assert.Equal(t, tt.wantBalance, tt.result.Balance)
			assert.Equal(t, tt.wantString, tt.result.Outcome.String())
		})
	}
}

func TestDebitOutcome_String_Unknown(t *testing.T) {
	assert.Equal(t, "unknown(0)", DebitOutcome(0).String())
}
