package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunRequiresURIWithoutScan(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := run(nil, &out, &errBuf)
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d", code)
	}
	if !strings.Contains(errBuf.String(), "-u URI is required") {
		t.Fatalf("expected usage message, got %q", errBuf.String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := run([]string{"-bogus"}, &out, &errBuf)
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d", code)
	}
}

func TestRunFailsOnUnresolvableURI(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := run([]string{"-u", "not-a-scheme:foo"}, &out, &errBuf)
	if code != 1 {
		t.Fatalf("expected failure exit code 1, got %d", code)
	}
}
