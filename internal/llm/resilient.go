package llm

import (
	"context"

	"github.com/fyrsmithlabs/coco/internal/resilience"
)

// resilientClient routes every call through a circuit breaker so callers
// fast-fail with *resilience.OpenError while the upstream is down.
type resilientClient struct {
	inner   Client
	breaker *resilience.Breaker
}

// WithBreaker wraps client with breaker. The breaker counts every failed
// call, including context cancellation surfaced by the provider.
func WithBreaker(client Client, breaker *resilience.Breaker) Client {
	return &resilientClient{inner: client, breaker: breaker}
}

func (r *resilientClient) Provider() string {
	return r.inner.Provider()
}

func (r *resilientClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var resp *Response
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.inner.Chat(ctx, messages)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *resilientClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	var resp *Response
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.inner.ChatWithTools(ctx, messages, tools)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
