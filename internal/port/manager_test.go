package port_test

import (
	"os"
	"testing"

	"github.com/agilecore/orchestrator-core/internal/port"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

func TestNewManager(t *testing.T) {
	m := port.NewManager(telemetry.NoOp{})
	if m == nil {
		t.Fatal("expected manager to be created")
	}
}

func TestManager_Strategy(t *testing.T) {
	m := port.NewManager(telemetry.NoOp{})
	strategy := m.Strategy()
	if strategy.Port == 0 {
		t.Error("expected a non-zero port")
	}
}

func TestManager_DeterminePort(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(int) bool
	}{
		{
			name:    "explicit port from env",
			envVars: map[string]string{"PORT": "9999"},
			expected: func(port int) bool {
				return port == 9999
			},
		},
		{
			name:    "auto discovery",
			envVars: map[string]string{},
			expected: func(port int) bool {
				return port >= 8080 && port <= 8090
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			m := port.NewManager(telemetry.NoOp{})
			p := m.DeterminePort()
			if !tt.expected(p) {
				t.Errorf("port %d did not meet expectations", p)
			}
		})
	}
}

func TestManager_GetServerAddress(t *testing.T) {
	m := port.NewManager(telemetry.NoOp{})
	addr := m.GetServerAddress(8080)
	if addr == "" {
		t.Error("expected server address to be non-empty")
	}
}
