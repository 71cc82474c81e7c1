package engine

import (
	"testing"

	"github.com/docker/docker/api/types/container"
)

// TestSummaryToInfo tests mapping of list entries, in particular health
// parsing out of the human-readable status string.
func TestSummaryToInfo(t *testing.T) {
	tests := []struct {
		name       string
		summary    container.Summary
		wantName   string
		wantState  ContainerState
		wantHealth Health
	}{
		{
			name: "healthy running",
			summary: container.Summary{
				ID:     "abc",
				Names:  []string{"/hyac-app-runtime-abcdefgh"},
				State:  "running",
				Status: "Up 2 minutes (healthy)",
			},
			wantName:   "hyac-app-runtime-abcdefgh",
			wantState:  StateRunning,
			wantHealth: HealthHealthy,
		},
		{
			name: "unhealthy running",
			summary: container.Summary{
				Names:  []string{"/app"},
				State:  "running",
				Status: "Up 10 minutes (unhealthy)",
			},
			wantName:   "app",
			wantState:  StateRunning,
			wantHealth: HealthUnhealthy,
		},
		{
			name: "health starting",
			summary: container.Summary{
				Names:  []string{"/app"},
				State:  "running",
				Status: "Up 3 seconds (health: starting)",
			},
			wantName:   "app",
			wantState:  StateRunning,
			wantHealth: HealthStarting,
		},
		{
			name: "no healthcheck",
			summary: container.Summary{
				Names:  []string{"/app"},
				State:  "running",
				Status: "Up 5 minutes",
			},
			wantName:   "app",
			wantState:  StateRunning,
			wantHealth: HealthNone,
		},
		{
			name: "exited",
			summary: container.Summary{
				Names:  []string{"/app"},
				State:  "exited",
				Status: "Exited (0) 2 hours ago",
			},
			wantName:   "app",
			wantState:  StateExited,
			wantHealth: HealthNone,
		},
		{
			name: "no names",
			summary: container.Summary{
				State:  "created",
				Status: "Created",
			},
			wantName:   "",
			wantState:  StateCreated,
			wantHealth: HealthNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := summaryToInfo(tt.summary)
			if info.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", info.Name, tt.wantName)
			}
			if info.State != tt.wantState {
				t.Errorf("State = %q, want %q", info.State, tt.wantState)
			}
			if info.Health != tt.wantHealth {
				t.Errorf("Health = %q, want %q", info.Health, tt.wantHealth)
			}
		})
	}
}
