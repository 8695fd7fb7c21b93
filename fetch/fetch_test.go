package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetchDownloadsAndSkips(t *testing.T) {
	body := "#1.2\n1\t1\nName\tDescription\tGTEX-1\n"
	requests := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := File{Tag: "gct", Name: "matrix.gct", URL: srv.URL}

	dest, downloaded, err := Fetch(dir, f)
	if err != nil {
		t.Fatal(err)
	}
	if !downloaded {
		t.Error("first call should download")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Errorf("got %q, want %q", got, body)
	}

	// Second call must hit the filesystem, not the network.
	dest2, downloaded, err := Fetch(dir, f)
	if err != nil {
		t.Fatal(err)
	}
	if downloaded {
		t.Error("second call should skip")
	}
	if dest2 != dest {
		t.Errorf("destination changed between calls: %q vs %q", dest2, dest)
	}
	if requests != 1 {
		t.Errorf("got %d requests, want 1", requests)
	}

	got2, err := os.ReadFile(dest2)
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != body {
		t.Error("file changed after idempotent re-fetch")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if _, _, err := Fetch(dir, File{Tag: "gct", Name: "matrix.gct", URL: srv.URL}); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}

	// A failed fetch must not leave anything behind that a retry could
	// mistake for a complete download.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		t.Errorf("unexpected leftover file %q", entry.Name())
	}
}

func TestFetchLeavesNoPartialOnTransferFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("truncated"))
		// Abort the connection so the client sees a short read.
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if _, _, err := Fetch(dir, File{Tag: "gct", Name: "matrix.gct", URL: srv.URL}); err == nil {
		t.Fatal("expected an error for a truncated transfer")
	}

	if _, err := os.Stat(filepath.Join(dir, "matrix.gct")); !os.IsNotExist(err) {
		t.Error("truncated download was published under the final name")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "partial") {
			t.Errorf("partial temp file %q was not cleaned up", entry.Name())
		}
	}
}

func TestGTExFileTable(t *testing.T) {
	if len(GTExFiles) != 2 {
		t.Fatalf("expected 2 files in the download table, got %d", len(GTExFiles))
	}
	for _, f := range GTExFiles {
		if !strings.HasPrefix(f.URL, "https://") {
			t.Errorf("%s: URL %q is not https", f.Tag, f.URL)
		}
	}
}
