package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/quantumvision/quantum-image-search/engine/ingest"
)

func TestConfirm(t *testing.T) {
	cases := []struct {
		input string
		want  error
	}{
		{"DELETE\n", nil},
		{"DELETE", nil}, // EOF without newline still counts
		{"  DELETE  \n", nil},
		{"delete\n", ingest.ErrConfirmationDenied},
		{"yes\n", ingest.ErrConfirmationDenied},
		{"\n", ingest.ErrConfirmationDenied},
		{"", ingest.ErrConfirmationDenied},
	}
	for _, tc := range cases {
		err := confirm(strings.NewReader(tc.input), "quantum-images")
		if !errors.Is(err, tc.want) {
			t.Errorf("confirm(%q) = %v, want %v", tc.input, err, tc.want)
		}
	}
}
