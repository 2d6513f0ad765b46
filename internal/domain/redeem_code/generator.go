package redeem_code

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// CodeLength コードの文字数
	CodeLength = 8
	// Alphabet 紛らわしい文字（I, O, 0, 1）を除いた32文字
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CodeGenerator コード文字列の生成器
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator crypto/rand によるコード生成器
type RandomCodeGenerator struct{}

// NewRandomCodeGenerator 新しいRandomCodeGeneratorを作成
func NewRandomCodeGenerator() *RandomCodeGenerator {
	return &RandomCodeGenerator{}
}

// Generate 新しいコードを生成
func (g *RandomCodeGenerator) Generate() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// 256は32で割り切れるため剰余による偏りはない
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// NormalizeCode 入力コードを正規化（前後の空白除去、大文字化）
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode コードの形式を検証
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return ErrInvalidCode
		}
	}
	return nil
}
