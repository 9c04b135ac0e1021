package uri

import (
	"net"
	"testing"

	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/discovery"
	"github.com/rjboer/iiogo/internal/iiomodel"
)

func fakeOps(name string) *backend.Ops {
	return &backend.Ops{
		Create: func(uri string) (*iiomodel.Context, error) {
			ctx := iiomodel.NewContext(name)
			ctx.Description = uri
			return ctx, nil
		},
	}
}

func TestResolverDispatchesLocal(t *testing.T) {
	r := &Resolver{LocalOps: fakeOps("local")}
	ctx, err := r.CreateContext("local:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Name != "local" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestResolverDispatchesNetworkWithHost(t *testing.T) {
	r := &Resolver{NetworkOps: fakeOps("net")}
	ctx, err := r.CreateContext("ip:192.168.2.1:30431")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Description != "ip:192.168.2.1:30431" {
		t.Fatalf("unexpected uri forwarded: %q", ctx.Description)
	}
}

func TestResolverDiscoversHostlessNetworkURI(t *testing.T) {
	r := &Resolver{
		NetworkOps: fakeOps("net"),
		Discover: func(timeoutSeconds int) ([]discovery.Candidate, error) {
			return []discovery.Candidate{{Hostname: "pluto.local.", Address: net.ParseIP("192.168.2.1"), Port: 30431}}, nil
		},
	}
	ctx, err := r.CreateContext("ip:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Description != "ip:192.168.2.1:30431" {
		t.Fatalf("unexpected discovered uri: %q", ctx.Description)
	}
}

func TestResolverHostlessNetworkWithoutDiscoverFails(t *testing.T) {
	r := &Resolver{NetworkOps: fakeOps("net")}
	if _, err := r.CreateContext("ip:"); err == nil {
		t.Fatalf("expected error when discovery is unavailable")
	}
}

func TestResolverDispatchesUSBWithParsedAddr(t *testing.T) {
	var gotAddr USBAddr
	r := &Resolver{
		OpenUSB: func(addr USBAddr) (*backend.Ops, error) {
			gotAddr = addr
			return fakeOps("usb"), nil
		},
	}
	ctx, err := r.CreateContext("usb:1.5.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAddr != (USBAddr{Bus: 1, Device: 5, Interface: 2}) {
		t.Fatalf("unexpected parsed address: %+v", gotAddr)
	}
	if ctx.Name != "usb" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestResolverUnavailableBackendReturnsUnsupported(t *testing.T) {
	r := &Resolver{}
	if _, err := r.CreateContext("serial:/dev/ttyUSB0,115200"); err == nil {
		t.Fatalf("expected error for unwired serial backend")
	}
}

func TestResolverDispatchesXMLPath(t *testing.T) {
	r := &Resolver{XMLOps: fakeOps("xml")}
	ctx, err := r.CreateContext("xml:/tmp/ctx.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Description != "/tmp/ctx.xml" {
		t.Fatalf("expected the xml backend to receive the bare path, got %q", ctx.Description)
	}
}
