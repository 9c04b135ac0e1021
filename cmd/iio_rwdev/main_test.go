package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rjboer/iiogo/internal/iiomodel"
)

func TestParseArgsRequiresDevice(t *testing.T) {
	var errBuf bytes.Buffer
	_, err := parseArgs([]string{"-u", "ip:1.2.3.4"}, &errBuf)
	if err == nil {
		t.Fatalf("expected error for missing device")
	}
}

func TestParseArgsWriteFlag(t *testing.T) {
	var errBuf bytes.Buffer
	cfg, err := parseArgs([]string{"-u", "ip:1.2.3.4", "-w", "-C", "iio:device0"}, &errBuf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.write || !cfg.cyclic || cfg.device != "iio:device0" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func newTestChannel(id string, number int, output, scan bool) *iiomodel.Channel {
	ch := iiomodel.NewChannel(id, output)
	ch.Name = id
	ch.Number = number
	ch.ScanElement = scan
	return ch
}

func TestSelectMaskDefaultsByDirection(t *testing.T) {
	dev := iiomodel.NewDevice("iio:device0")
	dev.Channels = []*iiomodel.Channel{
		newTestChannel("voltage0", 0, false, true),
		newTestChannel("voltage1", 1, true, true),
	}

	rxMask, err := selectMask(dev, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rxMask.Test(0) || rxMask.Test(1) {
		t.Fatalf("expected only the input channel selected for capture")
	}

	txMask, err := selectMask(dev, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txMask.Test(0) || !txMask.Test(1) {
		t.Fatalf("expected only the output channel selected for transmit")
	}
}

func TestRunFailsOnUnresolvableURI(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := run([]string{"-u", "not-a-scheme:foo", "iio:device0"}, strings.NewReader(""), &out, &errBuf)
	if code != 1 {
		t.Fatalf("expected failure exit code 1, got %d", code)
	}
}
