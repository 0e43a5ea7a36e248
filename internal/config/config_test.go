package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: &Config{
				DatabasePath: "./data/calsync.db",
				LogLevel:     "info",
				SyncSchedule: "*/5 * * * *",
				HTTPTimeout:  30 * time.Second,
				MaxBodyBytes: 10485760,
			},
		},
		{
			name: "all values set",
			env: map[string]string{
				"DATABASE_PATH":  "/tmp/calsync.db",
				"LOG_LEVEL":      "debug",
				"SYNC_SCHEDULE":  "0 * * * *",
				"HTTP_TIMEOUT":   "10s",
				"MAX_BODY_BYTES": "1024",
			},
			want: &Config{
				DatabasePath: "/tmp/calsync.db",
				LogLevel:     "debug",
				SyncSchedule: "0 * * * *",
				HTTPTimeout:  10 * time.Second,
				MaxBodyBytes: 1024,
			},
		},
		{
			name:    "invalid schedule",
			env:     map[string]string{"SYNC_SCHEDULE": "every morning"},
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			env:     map[string]string{"HTTP_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "non-positive timeout",
			env:     map[string]string{"HTTP_TIMEOUT": "0s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"DATABASE_PATH", "LOG_LEVEL", "SYNC_SCHEDULE", "HTTP_TIMEOUT", "MAX_BODY_BYTES"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
