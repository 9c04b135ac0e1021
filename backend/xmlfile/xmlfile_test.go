package xmlfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/backend"
)

const sampleDoc = `<?xml version="1.0" encoding="utf-8"?>
<context name="xmltest">
  <device id="iio:device0" name="dummy">
    <attribute name="sampling_frequency">1000000</attribute>
    <channel id="voltage0" type="input">
      <attribute name="raw" filename="in_voltage0_raw">100</attribute>
    </channel>
  </device>
</context>`

func TestCreateFromRawDocument(t *testing.T) {
	b, ops := New()
	ctx, err := ops.Create(sampleDoc)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(ctx.Devices) != 1 || ctx.Devices[0].Name != "dummy" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
	_ = b
}

func TestReadWriteAttrUpdatesInMemoryDOM(t *testing.T) {
	_, ops := New()
	ctx, err := ops.Create(sampleDoc)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	dev := ctx.Devices[0]

	a := &attr.Attribute{Kind: attr.Device, Name: "sampling_frequency", Owner: dev}
	attr.Bind(a, backend.AsRawIO(ops))

	got, err := attr.ReadRaw(a)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "1000000" {
		t.Fatalf("unexpected value: %q", got)
	}

	if err := attr.WriteRaw(a, "2000000"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err = attr.ReadRaw(a)
	if err != nil {
		t.Fatalf("read after write failed: %v", err)
	}
	if got != "2000000" {
		t.Fatalf("expected updated value, got %q", got)
	}
}

func TestChannelAttrRoundTrip(t *testing.T) {
	_, ops := New()
	ctx, err := ops.Create(sampleDoc)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ch := ctx.Devices[0].FindChannel("voltage0", false)
	if ch == nil {
		t.Fatalf("expected voltage0 channel")
	}

	a := &attr.Attribute{Kind: attr.Channel, Name: "raw", Owner: ch}
	attr.Bind(a, backend.AsRawIO(ops))

	got, err := attr.ReadRaw(a)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "100" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestWriteAttrPersistsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctx.xml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0644); err != nil {
		t.Fatal(err)
	}

	_, ops := New()
	ctx, err := ops.Create("xml:" + path)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	dev := ctx.Devices[0]
	a := &attr.Attribute{Kind: attr.Device, Name: "sampling_frequency", Owner: dev}
	attr.Bind(a, backend.AsRawIO(ops))

	if err := attr.WriteRaw(a, "5000000"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "5000000") {
		t.Fatalf("expected file to contain updated value, got: %s", raw)
	}
}
