package types

import (
	"testing"
)

// TestNewShortID tests id generation
func TestNewShortID(t *testing.T) {
	for _, length := range []int{4, 8, 24} {
		id := NewShortID(length)
		if len(id) != length {
			t.Errorf("NewShortID(%d) length = %d, want %d", length, len(id), length)
		}
		for _, c := range id {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
				t.Errorf("NewShortID(%d) produced non-letter character %q in %q", length, c, id)
			}
		}
	}
}

// TestNewShortIDUniqueness tests that ids do not collide in practice
func TestNewShortIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewShortID(8)
		if seen[id] {
			t.Fatalf("NewShortID(8) produced duplicate %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

// TestRuntimeContainerName tests container name derivation
func TestRuntimeContainerName(t *testing.T) {
	tests := []struct {
		appID string
		want  string
	}{
		{"AbCdEfGh", "hyac-app-runtime-abcdefgh"},
		{"lower", "hyac-app-runtime-lower"},
	}
	for _, tt := range tests {
		if got := RuntimeContainerName(tt.appID); got != tt.want {
			t.Errorf("RuntimeContainerName(%q) = %q, want %q", tt.appID, got, tt.want)
		}
	}
}

// TestApplicationBucketNames tests bucket name derivation
func TestApplicationBucketNames(t *testing.T) {
	app := &Application{AppID: "AbCdEfGh"}
	if got := app.BucketName(); got != "abcdefgh" {
		t.Errorf("BucketName() = %q, want %q", got, "abcdefgh")
	}
	if got := app.WebBucketName(); got != "web-abcdefgh" {
		t.Errorf("WebBucketName() = %q, want %q", got, "web-abcdefgh")
	}
}

// TestTaskAppID tests app_id extraction from task payloads
func TestTaskAppID(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		want    string
		wantErr bool
	}{
		{name: "present", payload: map[string]interface{}{"app_id": "AbCdEfGh"}, want: "AbCdEfGh"},
		{name: "missing", payload: map[string]interface{}{}, wantErr: true},
		{name: "empty", payload: map[string]interface{}{"app_id": ""}, wantErr: true},
		{name: "wrong type", payload: map[string]interface{}{"app_id": 42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{TaskID: "t1", Payload: tt.payload}
			got, err := task.AppID()
			if tt.wantErr {
				if err == nil {
					t.Fatal("AppID() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("AppID() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("AppID() = %q, want %q", got, tt.want)
			}
		})
	}
}
