package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	emb, _ := args.Get(0).([]float32)
	return emb, args.Error(1)
}

func (m *mockClient) Close() error {
	return m.Called().Error(0)
}

func TestRouterRoutesByTier(t *testing.T) {
	fast := new(mockClient)
	powerful := new(mockClient)

	fast.On("Generate", mock.Anything, mock.MatchedBy(func(r schemas.GenerationRequest) bool {
		return r.Tier == schemas.TierFast
	})).Return("fast-answer", nil)
	powerful.On("Generate", mock.Anything, mock.MatchedBy(func(r schemas.GenerationRequest) bool {
		return r.Tier == schemas.TierPowerful
	})).Return("powerful-answer", nil)

	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, fast, nil)
	require.NoError(t, err)

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast-answer", out)

	out, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful-answer", out)
}

func TestRouterDefaultsToPowerfulTier(t *testing.T) {
	fast := new(mockClient)
	powerful := new(mockClient)
	powerful.On("Generate", mock.Anything, mock.Anything).Return("powerful-answer", nil)

	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, fast, nil)
	require.NoError(t, err)

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful-answer", out)
	fast.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRouterEmbedGoesToEmbedder(t *testing.T) {
	fast := new(mockClient)
	powerful := new(mockClient)
	fast.On("Embed", mock.Anything, "text").Return([]float32{0.5}, nil)

	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, fast, nil)
	require.NoError(t, err)

	vec, err := router.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
}

func TestRouterRateLimiterHonoursCancellation(t *testing.T) {
	fast := new(mockClient)
	powerful := new(mockClient)

	// A zero-rate limiter never admits a request.
	limiter := rate.NewLimiter(0, 0)
	router, err := NewLLMRouter(zaptest.NewLogger(t), fast, powerful, fast, limiter)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	require.Error(t, err)
	fast.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRouterCloseClosesDistinctClientsOnce(t *testing.T) {
	shared := new(mockClient)
	powerful := new(mockClient)
	shared.On("Close").Return(nil).Once()
	powerful.On("Close").Return(nil).Once()

	router, err := NewLLMRouter(zaptest.NewLogger(t), shared, powerful, shared, nil)
	require.NoError(t, err)

	require.NoError(t, router.Close())
	shared.AssertExpectations(t)
	powerful.AssertExpectations(t)
}

func TestRouterRequiresBothTiers(t *testing.T) {
	_, err := NewLLMRouter(zaptest.NewLogger(t), nil, new(mockClient), nil, nil)
	require.Error(t, err)
}
