package main

import (
	"bytes"
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

func TestParseArgsSplitsChannelList(t *testing.T) {
	var errBuf bytes.Buffer
	cfg, err := parseArgs([]string{"-u", "ip:1.2.3.4", "-c", "voltage0,voltage1", "-n", "1024", "iio:device0"}, &errBuf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.device != "iio:device0" || len(cfg.channels) != 2 || cfg.nbSamples != 1024 {
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

func TestSelectMaskDefaultsToInputScanChannels(t *testing.T) {
	dev := iiomodel.NewDevice("iio:device0")
	dev.Channels = []*iiomodel.Channel{
		newTestChannel("voltage0", 0, false, true),
		newTestChannel("voltage1", 1, true, true),
		newTestChannel("timestamp", 2, false, false),
	}

	mask, err := selectMask(dev, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mask.Test(0) || mask.Test(1) || mask.Test(2) {
		t.Fatalf("expected only channel 0 selected by default")
	}
}

func TestSelectMaskHonorsExplicitChannelList(t *testing.T) {
	dev := iiomodel.NewDevice("iio:device0")
	dev.Channels = []*iiomodel.Channel{
		newTestChannel("voltage0", 0, false, true),
		newTestChannel("voltage1", 1, false, true),
	}

	mask, err := selectMask(dev, []string{"voltage1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask.Test(0) || !mask.Test(1) {
		t.Fatalf("expected only voltage1 selected")
	}
}

func TestSelectMaskRejectsUnknownChannel(t *testing.T) {
	dev := iiomodel.NewDevice("iio:device0")
	dev.Channels = []*iiomodel.Channel{newTestChannel("voltage0", 0, false, true)}

	if _, err := selectMask(dev, []string{"bogus"}); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestRunFailsOnUnresolvableURI(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := run([]string{"-u", "not-a-scheme:foo", "iio:device0"}, &out, &errBuf)
	if code != 1 {
		t.Fatalf("expected failure exit code 1, got %d", code)
	}
}
