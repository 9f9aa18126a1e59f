package reshttp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pkgres/internal/backend"
	"github.com/keithlinneman/pkgres/internal/registry"
	"github.com/keithlinneman/pkgres/internal/resource"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := registry.New()
	reg.Set(registry.StaticSnapshot([]resource.Package{
		{
			Name:      "corp.assets",
			IsPackage: true,
			Loader: backend.NewFS(fstest.MapFS{
				"motd.txt":           {Data: []byte("hello")},
				"templates/base.tpl": {Data: []byte("{{.Title}}")},
			}),
		},
		{Name: "corp.util", IsPackage: false},
	}))

	svc, err := resource.New(resource.Options{Resolver: reg})
	if err != nil {
		t.Fatalf("resource.New: %v", err)
	}

	r := chi.NewRouter()
	NewAPI(svc, reg, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHandleListPackages(t *testing.T) {
	srv := testServer(t)

	resp, body := get(t, srv, "/api/v1/packages")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out ListPackagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Packages) != 2 || out.Packages[0] != "corp.assets" {
		t.Fatalf("packages = %v", out.Packages)
	}
	if out.Source != registry.SourceStatic {
		t.Fatalf("source = %q, want static", out.Source)
	}
}

func TestHandleGetResource_OK(t *testing.T) {
	srv := testServer(t)

	resp, body := get(t, srv, "/api/v1/packages/corp.assets/resources/motd.txt")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", resp.StatusCode, body)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestHandleGetResource_Nested(t *testing.T) {
	srv := testServer(t)

	resp, body := get(t, srv, "/api/v1/packages/corp.assets/resources/templates/base.tpl")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "{{.Title}}" {
		t.Fatalf("body = %q", body)
	}
}

func TestHandleGetResource_Head(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Head(srv.URL + "/api/v1/packages/corp.assets/resources/motd.txt")
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Fatalf("HEAD body = %q, want empty", body)
	}
}

func TestHandleGetResource_ErrorMapping(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing resource", "/api/v1/packages/corp.assets/resources/missing.txt", http.StatusNotFound},
		{"unknown package", "/api/v1/packages/corp.nope/resources/motd.txt", http.StatusNotFound},
		{"module not package", "/api/v1/packages/corp.util/resources/motd.txt", http.StatusBadRequest},
		{"traversal", "/api/v1/packages/corp.assets/resources/../../../etc/passwd", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// build the request by hand so the client doesn't clean the path
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			req.URL.Opaque = tt.path

			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandleGetResource_ErrorBodyIsJSON(t *testing.T) {
	srv := testServer(t)

	resp, body := get(t, srv, "/api/v1/packages/corp.assets/resources/missing.txt")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var out errorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	if out.Error == "" {
		t.Fatal("error message missing")
	}
}
