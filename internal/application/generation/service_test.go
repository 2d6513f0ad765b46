package generation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credits-ledger/internal/application/compensation"
	"credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/testutil/memstore"
)

// MockCreditsService モック課金サービス
type MockCreditsService struct {
	mock.Mock
}

func (m *MockCreditsService) Consume(ctx context.Context, req *credits.ConsumeRequest) (*credits.ConsumeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.ConsumeResponse), args.Error(1)
}

func (m *MockCreditsService) Refund(ctx context.Context, req *credits.RefundRequest) (*credits.RefundResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credits.RefundResponse), args.Error(1)
}

// MockCompensationRecorder モック補填記録
type MockCompensationRecorder struct {
	mock.Mock
}

func (m *MockCompensationRecorder) Record(ctx context.Context, req *compensation.RecordRequest) (*compensation.CompensationView, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*compensation.CompensationView), args.Error(1)
}

func newTestLogger() *otelinfra.Logger {
	return otelinfra.NewLogger(otel.Tracer("test"), otelinfra.WithWriter(io.Discard))
}

func okProvider(output string) Provider {
	return ProviderFunc(func(ctx context.Context, req *ProviderRequest) (*ProviderResult, error) {
		return &ProviderResult{Output: output}, nil
	})
}

func failingProvider(err error) Provider {
	return ProviderFunc(func(ctx context.Context, req *ProviderRequest) (*ProviderResult, error) {
		return nil, err
	})
}

func consumeFor(jobID, action string) interface{} {
	return mock.MatchedBy(func(req *credits.ConsumeRequest) bool {
		return req.RefID != nil && *req.RefID == jobID && req.Action == action && req.Amount == 5
	})
}

func refundFor(jobID string) interface{} {
	return mock.MatchedBy(func(req *credits.RefundRequest) bool {
		return req.RefID != nil && *req.RefID == jobID && req.Amount == 5
	})
}

func TestGenerationApplicationService_Generate(t *testing.T) {
	providerErr := errors.New("provider unavailable")

	tests := []struct {
		name       string
		req        *GenerateRequest
		provider   Provider
		setupMocks func(*MockCreditsService, *MockCompensationRecorder)
		wantOutput string
		wantErrIs  error
	}{
		{
			name:     "正常系: 課金して生成",
			req:      &GenerateRequest{UserID: "user123", Kind: "image", Prompt: "a cat", Cost: 5, JobID: "job_1"},
			provider: okProvider("https://cdn.example/cat.png"),
			setupMocks: func(c *MockCreditsService, _ *MockCompensationRecorder) {
				c.On("Consume", mock.Anything, consumeFor("job_1", "ai_generate_image")).
					Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15, TransactionID: "txn_1"}, nil)
			},
			wantOutput: "https://cdn.example/cat.png",
		},
		{
			name:     "異常系: 生成失敗時は返金",
			req:      &GenerateRequest{UserID: "user123", Kind: "text", Prompt: "hello", Cost: 5, JobID: "job_2"},
			provider: failingProvider(providerErr),
			setupMocks: func(c *MockCreditsService, _ *MockCompensationRecorder) {
				c.On("Consume", mock.Anything, consumeFor("job_2", "ai_generate_text")).
					Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15, TransactionID: "txn_2"}, nil)
				c.On("Refund", mock.Anything, refundFor("job_2")).
					Return(&credits.RefundResponse{UserID: "user123", Balance: 20}, nil)
			},
			wantErrIs: ErrGenerationFailed,
		},
		{
			name:     "異常系: 返金にも失敗した場合は補填を記録",
			req:      &GenerateRequest{UserID: "user123", Kind: "video", Prompt: "waves", Cost: 5, JobID: "job_3"},
			provider: failingProvider(providerErr),
			setupMocks: func(c *MockCreditsService, r *MockCompensationRecorder) {
				c.On("Consume", mock.Anything, consumeFor("job_3", "ai_generate_video")).
					Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15, TransactionID: "txn_3"}, nil)
				c.On("Refund", mock.Anything, refundFor("job_3")).
					Return(nil, transaction.NewDatabaseError("commit", errors.New("bad connection"), true))
				r.On("Record", mock.Anything, mock.MatchedBy(func(req *compensation.RecordRequest) bool {
					return req.RefID == "job_3" && req.Amount == 5 && req.UserID == "user123"
				})).Return(&compensation.CompensationView{CompensationID: "cmp_1"}, nil)
			},
			wantErrIs: ErrGenerationFailed,
		},
		{
			name:     "異常系: 残高不足では生成しない",
			req:      &GenerateRequest{UserID: "user123", Kind: "text", Prompt: "hello", Cost: 5, JobID: "job_4"},
			provider: failingProvider(errors.New("must not be called")),
			setupMocks: func(c *MockCreditsService, _ *MockCompensationRecorder) {
				c.On("Consume", mock.Anything, consumeFor("job_4", "ai_generate_text")).
					Return(nil, account.NewInsufficientCreditsError(2, 5))
			},
			wantErrIs: account.ErrInsufficientCredits,
		},
		{
			name:     "異常系: 同じジョブIDの再実行",
			req:      &GenerateRequest{UserID: "user123", Kind: "text", Prompt: "hello", Cost: 5, JobID: "job_5"},
			provider: failingProvider(errors.New("must not be called")),
			setupMocks: func(c *MockCreditsService, _ *MockCompensationRecorder) {
				c.On("Consume", mock.Anything, consumeFor("job_5", "ai_generate_text")).
					Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15, TransactionID: "txn_5", Replayed: true}, nil)
			},
			wantErrIs: transaction.ErrDuplicateTransaction,
		},
		{
			name:       "異常系: 未対応の種別",
			req:        &GenerateRequest{UserID: "user123", Kind: "audio", Prompt: "hello", Cost: 5},
			provider:   okProvider("x"),
			setupMocks: func(*MockCreditsService, *MockCompensationRecorder) {},
			wantErrIs:  ErrUnsupportedKind,
		},
		{
			name:       "異常系: プロンプトが空",
			req:        &GenerateRequest{UserID: "user123", Kind: "text", Cost: 5},
			provider:   okProvider("x"),
			setupMocks: func(*MockCreditsService, *MockCompensationRecorder) {},
			wantErrIs:  ErrEmptyPrompt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creditsService := &MockCreditsService{}
			recorder := &MockCompensationRecorder{}
			tt.setupMocks(creditsService, recorder)

			kind, _ := NewKind(tt.req.Kind)
			providers := map[Kind]Provider{}
			if kind != "" {
				providers[kind] = tt.provider
			}
			s := NewGenerationApplicationService(creditsService, recorder, providers, time.Second, newTestLogger())

			got, err := s.Generate(context.Background(), tt.req)

			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, got.Output)
				assert.Equal(t, tt.req.JobID, got.JobID)
				assert.Equal(t, int64(5), got.Charged)
			}
			creditsService.AssertExpectations(t)
			recorder.AssertExpectations(t)
		})
	}
}

func TestGenerationApplicationService_ProviderTimeout(t *testing.T) {
	creditsService := &MockCreditsService{}
	creditsService.On("Consume", mock.Anything, mock.Anything).
		Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15, TransactionID: "txn_1"}, nil)
	creditsService.On("Refund", mock.Anything, mock.Anything).
		Return(&credits.RefundResponse{UserID: "user123", Balance: 20}, nil)

	slow := ProviderFunc(func(ctx context.Context, req *ProviderRequest) (*ProviderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewGenerationApplicationService(creditsService, &MockCompensationRecorder{},
		map[Kind]Provider{KindText: slow}, 10*time.Millisecond, newTestLogger())

	_, err := s.Generate(context.Background(), &GenerateRequest{UserID: "user123", Kind: "text", Prompt: "hi", Cost: 5})

	assert.ErrorIs(t, err, ErrGenerationFailed)
	creditsService.AssertExpectations(t)
}

func TestGenerationApplicationService_GeneratesJobID(t *testing.T) {
	creditsService := &MockCreditsService{}
	creditsService.On("Consume", mock.Anything, mock.MatchedBy(func(req *credits.ConsumeRequest) bool {
		return req.RefID != nil && len(*req.RefID) > len("job_")
	})).Return(&credits.ConsumeResponse{UserID: "user123", Balance: 15}, nil)

	s := NewGenerationApplicationService(creditsService, &MockCompensationRecorder{},
		map[Kind]Provider{KindText: okProvider("hello")}, time.Second, newTestLogger())

	got, err := s.Generate(context.Background(), &GenerateRequest{UserID: "user123", Kind: "text", Prompt: "hi", Cost: 5})

	require.NoError(t, err)
	assert.Regexp(t, `^job_[0-9a-f-]{36}$`, got.JobID)
}

func TestGeneration_FailedJobRestoresBalance(t *testing.T) {
	store := memstore.New()
	store.Seed("user123", 20)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	logger := newTestLogger()

	creditsService := credits.NewCreditsApplicationService(
		store, store.Transactions(), store, store,
		service.NewBalanceService(store, store.Transactions()),
		logger, metrics,
	)
	s := NewGenerationApplicationService(creditsService, &MockCompensationRecorder{},
		map[Kind]Provider{KindImage: failingProvider(errors.New("boom"))}, time.Second, logger)

	_, err = s.Generate(context.Background(), &GenerateRequest{UserID: "user123", Kind: "image", Prompt: "a cat", Cost: 5, JobID: "job_rt"})

	assert.ErrorIs(t, err, ErrGenerationFailed)
	rows := store.Rows("user123")
	require.Len(t, rows, 3)
	assert.Equal(t, int64(-5), rows[1].Amount())
	assert.Equal(t, int64(15), rows[1].BalanceAfter())
	assert.Equal(t, int64(5), rows[2].Amount())
	assert.Equal(t, int64(20), rows[2].BalanceAfter())
	assert.Equal(t, int64(20), store.CachedBalance("user123"))
}
