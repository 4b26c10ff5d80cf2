package forge

import "context"

// --- MockLLMClient ---

type MockLLMClient struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	// State for verification
	Prompts []string
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "", nil
}
