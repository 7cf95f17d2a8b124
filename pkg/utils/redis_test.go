package utils

import (
	"context"
	"testing"
	"time"
)

func TestCapScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if capAcquireScript == nil || capReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestTenantCapLimiterDefaults(t *testing.T) {
	l := NewTenantCapLimiter(nil, "", 0, 0)
	if l.KeyPrefix != "dispatch:cap" || l.Limit != 8 || l.TTL != time.Minute {
		t.Fatalf("defaults: %+v", l)
	}
	if got := l.key("T1"); got != "dispatch:cap:T1" {
		t.Fatalf("key = %q", got)
	}
}

func TestTenantCapLimiterValidation(t *testing.T) {
	l := NewTenantCapLimiter(nil, "", 0, 0)
	if _, err := l.Acquire(context.Background(), "T1"); err == nil {
		t.Fatal("expected error with nil client")
	}
	if err := l.Release(context.Background(), "T1"); err == nil {
		t.Fatal("expected error with nil client")
	}
}
