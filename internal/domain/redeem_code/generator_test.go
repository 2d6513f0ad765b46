package redeem_code

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCodeGenerator_Generate(t *testing.T) {
	g := NewRandomCodeGenerator()
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)
		assert.NoError(t, ValidateCode(code))
		seen[code] = struct{}{}
	}

	// 32^8 通りの空間なので200件で衝突することは実質ない
	assert.Len(t, seen, 200)
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "正常系: 小文字を大文字化", input: "abcd2345", want: "ABCD2345"},
		{name: "正常系: 前後の空白を除去", input: "  ABCD2345\n", want: "ABCD2345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.input))
		})
	}
}

func TestCodeStatus(t *testing.T) {
	for _, s := range []string{"active", "used", "disabled", "expired"} {
		cs, err := NewCodeStatus(s)
		require.NoError(t, err)
		assert.True(t, cs.Valid())
		assert.Equal(t, s, cs.String())
	}

	_, err := NewCodeStatus("unknown")
	assert.Error(t, err)

	assert.True(t, CodeStatusUsed.IsTerminal())
	assert.True(t, CodeStatusDisabled.IsTerminal())
	assert.False(t, CodeStatusExpired.IsTerminal())
}
