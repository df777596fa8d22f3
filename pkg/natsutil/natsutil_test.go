package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	c := &headerCarrier{}
	if c.Get("traceparent") != "" {
		t.Fatal("empty carrier returned a value")
	}
	if got := c.Keys(); len(got) != 0 {
		t.Fatalf("empty carrier keys = %v", got)
	}

	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" {
		t.Fatalf("get = %q", c.Get("traceparent"))
	}
	if got := c.Keys(); len(got) != 1 {
		t.Fatalf("keys = %v", got)
	}

	// Set must overwrite, not append.
	c.Set("traceparent", "00-abc-def-02")
	if c.Get("traceparent") != "00-abc-def-02" {
		t.Fatalf("overwrite failed: %q", c.Get("traceparent"))
	}
}

func TestHeaderCarrierWrapsMsg(t *testing.T) {
	msg := &nats.Msg{Subject: "images.ingest.done"}
	c := (*headerCarrier)(msg)
	c.Set("x-test", "1")
	if msg.Header.Get("x-test") != "1" {
		t.Fatal("carrier writes did not reach the message headers")
	}
}
