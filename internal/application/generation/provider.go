package generation

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailed 生成プロバイダーの呼び出しに失敗したエラー
	ErrGenerationFailed = errors.New("generation failed")
	// ErrUnsupportedKind プロバイダーが登録されていない種別
	ErrUnsupportedKind = errors.New("unsupported generation kind")
	// ErrEmptyPrompt プロンプトが空
	ErrEmptyPrompt = errors.New("prompt is required")
)

// Kind 生成の種別
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// NewKind 新しいKindを作成
func NewKind(s string) (Kind, error) {
	switch s {
	case "text", "image", "video":
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, s)
	}
}

// String 文字列表現を返す
func (k Kind) String() string {
	return string(k)
}

// Action 台帳に記録するアクションタグ
func (k Kind) Action() string {
	return "ai_generate_" + string(k)
}

// ProviderRequest プロバイダーへの生成依頼
type ProviderRequest struct {
	JobID  string
	UserID string
	Prompt string
}

// ProviderResult プロバイダーの生成結果
type ProviderResult struct {
	Output string // テキスト本文、または画像・動画のURL
}

// Provider 有償の生成プロバイダー
type Provider interface {
	Generate(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)
}

// ProviderFunc 関数をProviderとして扱うアダプター
type ProviderFunc func(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)

// Generate fを呼び出す
func (f ProviderFunc) Generate(ctx context.Context, req *ProviderRequest) (*ProviderResult, error) {
	return f(ctx, req)
}
