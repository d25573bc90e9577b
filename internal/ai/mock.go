package ai

import (
	"context"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return `{"suggested_answer":"[mock suggested answer]","improvements":"[mock improvements]",` +
		`"summary":"[mock summary]","areas_for_improvement":"[mock areas for improvement]"}`, nil
}
