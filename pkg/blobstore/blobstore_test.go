package blobstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	c := New(Opts{
		BaseURL:   url,
		CloudName: "demo",
		APIKey:    "key123",
		APISecret: "secret456",
		Folder:    "quantum-images",
	})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestUpload(t *testing.T) {
	var form map[string]string
	var fileBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fileBytes, _ = io.ReadAll(f)

		json.NewEncoder(w).Encode(map[string]string{
			"public_id":  form["public_id"],
			"secure_url": "https://cdn.example.com/" + form["public_id"] + ".jpg",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, url, err := c.Upload(context.Background(), []byte("jpegbytes"), "scan_001.jpg", "healthcare")
	if err != nil {
		t.Fatal(err)
	}
	if id != "quantum-images/healthcare/scan_001" {
		t.Fatalf("public id = %q", id)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/") {
		t.Fatalf("url = %q", url)
	}
	if string(fileBytes) != "jpegbytes" {
		t.Fatalf("file bytes = %q", fileBytes)
	}
	if form["api_key"] != "key123" {
		t.Fatalf("api_key = %q", form["api_key"])
	}
	if form["overwrite"] != "true" {
		t.Fatal("overwrite flag missing")
	}

	// Signature covers the sorted non-credential params plus the secret.
	payload := "overwrite=true&public_id=quantum-images/healthcare/scan_001&timestamp=1700000000secret456"
	sum := sha1.Sum([]byte(payload))
	if form["signature"] != hex.EncodeToString(sum[:]) {
		t.Fatalf("signature = %q", form["signature"])
	}
}

func TestUploadServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "Invalid Signature"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, err := c.Upload(context.Background(), []byte("x"), "a.jpg", "satellite")
	if err == nil || !strings.Contains(err.Error(), "Invalid Signature") {
		t.Fatalf("err = %v", err)
	}
}

func TestPublicID(t *testing.T) {
	c := newTestClient("http://unused")
	cases := []struct {
		file, category, want string
	}{
		{"scan.jpg", "healthcare", "quantum-images/healthcare/scan"},
		{"no_ext", "satellite", "quantum-images/satellite/no_ext"},
		{"a.b.png", "", "quantum-images/a.b"},
	}
	for _, tc := range cases {
		if got := c.publicID(tc.category, tc.file); got != tc.want {
			t.Errorf("publicID(%q, %q) = %q, want %q", tc.category, tc.file, got, tc.want)
		}
	}
}
