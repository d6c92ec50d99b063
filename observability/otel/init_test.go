package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer abc , x-team=recovery,broken,=empty,")
	if len(got) != 2 {
		t.Fatalf("unexpected headers %v", got)
	}
	if got["authorization"] != "Bearer abc" || got["x-team"] != "recovery" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithSignalsDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "recoverymon"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
