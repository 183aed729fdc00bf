package mock

import (
	"context"

	"github.com/kiranshivaraju/opsloop/internal/ai"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// MockProvider satisfies models.FixProvider for testing.
type MockProvider struct {
	Name_           string
	GenerateFixFunc func(ctx context.Context, req models.FixRequest) (string, error)
	DescribeFixFunc func(ctx context.Context, req models.FixRequest, fixedCode string) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) GenerateFix(ctx context.Context, req models.FixRequest) (string, error) {
	if m.GenerateFixFunc != nil {
		return m.GenerateFixFunc(ctx, req)
	}
	return "", nil
}

func (m *MockProvider) DescribeFix(ctx context.Context, req models.FixRequest, fixedCode string) (string, error) {
	if m.DescribeFixFunc != nil {
		return m.DescribeFixFunc(ctx, req, fixedCode)
	}
	return "{}", nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFixFunc: func(_ context.Context, req models.FixRequest) (string, error) {
			return "# fixed\n" + req.Code, nil
		},
		DescribeFixFunc: func(_ context.Context, req models.FixRequest, _ string) (string, error) {
			return `{"analysis":"Unbounded cache growth","fix_description":"Cap the cache size",` +
				`"fix_file":"app/cache.py","pr_title":"Cap cache size","pr_body":"Bounds the in-memory cache."}`, nil
		},
	}
}

// NewMalformedProvider returns a MockProvider whose description is not JSON.
func NewMalformedProvider() *MockProvider {
	m := NewMockProvider()
	m.Name_ = "mock-malformed"
	m.DescribeFixFunc = func(_ context.Context, _ models.FixRequest, _ string) (string, error) {
		return "Sure! Here is what I changed: I capped the cache.", nil
	}
	return m
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFixFunc: func(_ context.Context, _ models.FixRequest) (string, error) {
			return "", err
		},
		DescribeFixFunc: func(_ context.Context, _ models.FixRequest, _ string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFixFunc: func(ctx context.Context, _ models.FixRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
		DescribeFixFunc: func(ctx context.Context, _ models.FixRequest, _ string) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements FixProvider.
var _ models.FixProvider = (*MockProvider)(nil)
