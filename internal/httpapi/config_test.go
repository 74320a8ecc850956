package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
}

func TestSetRequestTimeout_NormalizesNegative(t *testing.T) {
	SetRequestTimeout(-time.Second)
	if requestTimeout != 0 {
		t.Fatalf("expected 0, got %v", requestTimeout)
	}
	SetRequestTimeout(3 * time.Second)
	if requestTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %v", requestTimeout)
	}
	SetRequestTimeout(0)
}

func TestRequestContext_CanceledByBaseContext(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	ctx, cancel := requestContext(httptest.NewRequest("GET", "/", nil))
	defer cancel()
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("request context survived server shutdown")
	}
}

func TestRequestContext_AppliesTimeout(t *testing.T) {
	SetRequestTimeout(10 * time.Millisecond)
	defer SetRequestTimeout(0)
	ctx, cancel := requestContext(httptest.NewRequest("GET", "/", nil))
	defer cancel()
	select {
	case <-ctx.Done():
		if ctx.Err() != context.DeadlineExceeded {
			t.Fatalf("err = %v", ctx.Err())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout not applied")
	}
}
