package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/pkgres/internal/health"
	"github.com/keithlinneman/pkgres/internal/log"
)

// test helpers

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts Options) int {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port
}

func opsGet(t *testing.T, port int, path string) *http.Response {
	t.Helper()
	addr := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET %s: %v", addr, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// Start - lifecycle

func TestStart_HealthEndpoints(t *testing.T) {
	port := startOps(t, Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/-/healthy")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/-/healthy status = %d, want 200", resp.StatusCode)
	}

	resp = opsGet(t, port, "/-/ready")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/-/ready status = %d, want 200", resp.StatusCode)
	}
}

func TestStart_ReadinessFailure(t *testing.T) {
	port := startOps(t, Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "draining"),
	})

	resp := opsGet(t, port, "/-/ready")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/-/ready status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, "draining") {
		t.Fatalf("body = %q, want reason included", body)
	}
}

func TestStart_MetricsEndpoint(t *testing.T) {
	port := startOps(t, Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# HELP test_metric\ntest_metric 1\n"))
		}),
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/metrics")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "test_metric") {
		t.Fatalf("metrics body = %q", body)
	}
}

func TestStart_NoMetricsHandler_404(t *testing.T) {
	port := startOps(t, Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/metrics")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/metrics without handler: status = %d, want 404", resp.StatusCode)
	}
}

func TestStart_PprofEnabled(t *testing.T) {
	port := startOps(t, Options{
		EnablePprof: true,
		Health:      health.Fixed(true, ""),
		Readiness:   health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/debug/pprof/")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/debug/pprof/ status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "pprof") {
		t.Fatalf("pprof index body missing 'pprof': %q", body[:min(len(body), 200)])
	}
}

func TestStart_PprofDisabled_404(t *testing.T) {
	port := startOps(t, Options{
		EnablePprof: false,
		Health:      health.Fixed(true, ""),
		Readiness:   health.Fixed(true, ""),
	})

	resp := opsGet(t, port, "/debug/pprof/")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/debug/pprof/ disabled: status = %d, want 404", resp.StatusCode)
	}

	resp = opsGet(t, port, "/debug/pprof/heap")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/debug/pprof/heap disabled: status = %d, want 404", resp.StatusCode)
	}
}

func TestStart_GracefulShutdown(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), Options{
		Port:      port,
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Verify it's up
	resp := opsGet(t, port, "/-/healthy")
	resp.Body.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Should no longer accept connections
	addr := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	if _, err := http.Get(addr); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_StopIdempotent(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	_, err = Start(context.Background(), log.Nop(), Options{Port: port})
	if err == nil {
		t.Fatal("expected error when port is already bound")
	}
}

// RegisterPprof

func TestRegisterPprof_Routes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPprof(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/debug/pprof/cmdline", nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("/debug/pprof/cmdline status = %d, want 200", rec.Code)
	}
}
