package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantumvision/quantum-image-search/pkg/resilience"
)

func vector(dim int) []float64 {
	out := make([]float64, dim)
	for i := range out {
		out[i] = float64(i) / float64(dim)
	}
	return out
}

func TestExtractFeatures(t *testing.T) {
	var gotReq extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(extractResponse{Features: vector(8)})
	}))
	defer srv.Close()

	c := New(Opts{BaseURL: srv.URL, Model: "resnet50", Dimension: 8})
	vec, err := c.ExtractFeatures(context.Background(), []byte("imagedata"))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 {
		t.Fatalf("len = %d", len(vec))
	}
	if gotReq.Model != "resnet50" {
		t.Fatalf("model = %q", gotReq.Model)
	}
	img, err := base64.StdEncoding.DecodeString(gotReq.Image)
	if err != nil || string(img) != "imagedata" {
		t.Fatalf("image round trip: %q, %v", img, err)
	}
}

func TestDimensionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{Features: vector(7)})
	}))
	defer srv.Close()

	c := New(Opts{BaseURL: srv.URL, Dimension: 8})
	if _, err := c.ExtractFeatures(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{Error: "cannot decode image"})
	}))
	defer srv.Close()

	c := New(Opts{BaseURL: srv.URL, Dimension: 8})
	_, err := c.ExtractFeatures(context.Background(), []byte("junk"))
	if err == nil {
		t.Fatal("expected service error")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	c := New(Opts{BaseURL: srv.URL, Dimension: 8, Breaker: breaker})

	for i := 0; i < 2; i++ {
		if _, err := c.ExtractFeatures(context.Background(), []byte("x")); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	_, err := c.ExtractFeatures(context.Background(), []byte("x"))
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Opts{BaseURL: srv.URL, Dimension: 8})
	_, err := c.ExtractFeatures(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected status error")
	}
}
