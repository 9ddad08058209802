package infra

import (
	"testing"
	"time"

	"forge/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/forge")
	t.Setenv("S3_ACCESS_KEY", "access")
	t.Setenv("S3_SECRET_KEY", "secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Fatalf("WorkerPoolSize = %d, want 4", cfg.WorkerPoolSize)
	}
	if cfg.UploadGrantTTL != 15*time.Minute {
		t.Fatalf("UploadGrantTTL = %v, want 15m", cfg.UploadGrantTTL)
	}

	video := cfg.Operation(domain.OperationVideo)
	if video.CostCredits != 50 || video.Deadline != 10*time.Minute {
		t.Fatalf("video operation = %+v, want cost 50 deadline 10m", video)
	}
}

func TestLoadConfigOperationOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("IMAGE_COST_CREDITS", "25")
	t.Setenv("IMAGE_RATE_MAX", "5")
	t.Setenv("IMAGE_DEADLINE_SECONDS", "45")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	image := cfg.Operation(domain.OperationImage)
	if image.CostCredits != 25 {
		t.Fatalf("CostCredits = %d, want 25", image.CostCredits)
	}
	if image.RateMax != 5 {
		t.Fatalf("RateMax = %d, want 5", image.RateMax)
	}
	if image.Deadline != 45*time.Second {
		t.Fatalf("Deadline = %v, want 45s", image.Deadline)
	}
}

func TestLoadConfigUnknownOperationFallsBack(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	got := cfg.Operation(domain.OperationType("AUDIO_GEN"))
	if got != cfg.Operation(domain.OperationImage) {
		t.Fatalf("unknown operation = %+v, want image defaults", got)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing database url",
			env: map[string]string{
				"S3_ACCESS_KEY": "a", "S3_SECRET_KEY": "s",
			},
		},
		{
			name: "missing s3 credentials",
			env: map[string]string{
				"DATABASE_URL": "postgres://localhost/forge",
			},
		},
		{
			name: "s3 endpoint with scheme",
			env: map[string]string{
				"DATABASE_URL": "postgres://localhost/forge",
				"S3_ACCESS_KEY": "a", "S3_SECRET_KEY": "s",
				"S3_ENDPOINT": "https://minio.local:9000",
			},
		},
		{
			name: "zero worker pool",
			env: map[string]string{
				"DATABASE_URL": "postgres://localhost/forge",
				"S3_ACCESS_KEY": "a", "S3_SECRET_KEY": "s",
				"WORKER_POOL_SIZE": "0",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range []string{"DATABASE_URL", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_ENDPOINT", "WORKER_POOL_SIZE"} {
				t.Setenv(key, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("LoadConfig() error = nil, want validation failure")
			}
		})
	}
}
