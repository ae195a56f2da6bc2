package telemetry

import (
	"context"
	"testing"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), Options{ServiceName: "helpdesk"})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
}

func TestSetupWithEndpointInstallsProvider(t *testing.T) {
	// otlptracegrpc dials lazily, so an unreachable endpoint still yields a provider.
	shutdown := Setup(context.Background(), Options{ServiceName: "helpdesk", Endpoint: "127.0.0.1:1", Insecure: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
