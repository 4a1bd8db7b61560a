package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cedarmarket/api/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestHealthReportFillsBuildMetadataAndStatus(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusDegraded, Detail: "slow publishes"},
				},
			}, nil
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            testClock(time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC)),
		Build:            BuildInfo{Version: "1.4.0", Environment: "production"},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "production" {
		t.Fatalf("expected build metadata filled, got %+v", report)
	}
	if !report.GeneratedAt.Equal(time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected generatedAt from clock, got %v", report.GeneratedAt)
	}
}

func TestHealthReportErrorWinsOverDegraded(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
					"pubsub":    {Status: domain.HealthStatusDegraded},
				},
			}, nil
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
}

func TestHealthReportPropagatesCollectFailure(t *testing.T) {
	wantErr := errors.New("firestore unreachable")
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, wantErr
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected collect failure, got %v", err)
	}
}
