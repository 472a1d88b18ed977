package telemetry_test

import (
	"context"
	"testing"

	"padbridge/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "test-service", telemetry.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Use a non-routable address so no actual export happens.
	shutdown, err := telemetry.Setup(context.Background(), "test-service", telemetry.Config{
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Shutdown should flush cleanly even though the endpoint is unreachable.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
