package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

func TestReadWriteAttrRoundTrip(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "iio:device0")
	if err := os.MkdirAll(devDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(devDir, "sampling_frequency"), []byte("1000000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	b, ops := New(Config{SysfsRoot: root})
	_ = ops

	dev := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "sampling_frequency", Filename: "sampling_frequency", Owner: dev}

	got, err := b.readAttr(a, 0)
	if err != nil {
		t.Fatalf("readAttr failed: %v", err)
	}
	if got != "1000000" {
		t.Fatalf("readAttr = %q, want %q", got, "1000000")
	}

	if _, err := b.writeAttr(a, "2000000"); err != nil {
		t.Fatalf("writeAttr failed: %v", err)
	}
	got, err = b.readAttr(a, 0)
	if err != nil {
		t.Fatalf("readAttr after write failed: %v", err)
	}
	if got != "2000000" {
		t.Fatalf("readAttr after write = %q, want %q", got, "2000000")
	}
}

func TestReadAttrNotFound(t *testing.T) {
	root := t.TempDir()
	b, _ := New(Config{SysfsRoot: root})

	dev := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Device, Name: "missing", Filename: "missing", Owner: dev}

	_, err := b.readAttr(a, 0)
	if ioerr.KindOf(err) != ioerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSysfsPathUsesDebugSubdirectory(t *testing.T) {
	root := t.TempDir()
	b, _ := New(Config{SysfsRoot: root})

	dev := iiomodel.NewDevice("iio:device0")
	a := &attr.Attribute{Kind: attr.Debug, Name: "direct_reg_access", Filename: "direct_reg_access", Owner: dev}

	path, err := b.sysfsPath(a)
	if err != nil {
		t.Fatalf("sysfsPath failed: %v", err)
	}
	want := filepath.Join(root, "iio:device0", "debug", "direct_reg_access")
	if path != want {
		t.Fatalf("sysfsPath = %q, want %q", path, want)
	}
}

func TestSysfsPathResolvesChannelOwnerViaDevice(t *testing.T) {
	root := t.TempDir()
	b, _ := New(Config{SysfsRoot: root})

	dev := iiomodel.NewDevice("iio:device0")
	ch := iiomodel.NewChannel("voltage0", false)
	ch.Device = dev
	a := &attr.Attribute{Kind: attr.Channel, Name: "raw", Filename: "in_voltage0_raw", Owner: ch}

	path, err := b.sysfsPath(a)
	if err != nil {
		t.Fatalf("sysfsPath failed: %v", err)
	}
	want := filepath.Join(root, "iio:device0", "in_voltage0_raw")
	if path != want {
		t.Fatalf("sysfsPath = %q, want %q", path, want)
	}
}
