package biometric

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) HardwareAvailable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockDevice) Enrolled(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockDevice) Authenticate(ctx context.Context, prompt string) (Result, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(Result), args.Error(1)
}
