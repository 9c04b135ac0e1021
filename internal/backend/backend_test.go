package backend

import (
	"testing"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/ioerr"
)

func TestUnsetOpsReturnUnsupported(t *testing.T) {
	ops := &Ops{}
	bops := AsBufferOps(ops)

	if _, err := bops.CreateBuffer(nil, 0, nil); ioerr.KindOf(err) != ioerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}
	if err := bops.FreeBuffer(nil); ioerr.KindOf(err) != ioerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}
	if _, err := bops.CreateBlockMapped(nil, 1024); ioerr.KindOf(err) != ioerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}

	rio := AsRawIO(ops)
	if _, err := rio.ReadRaw(&attr.Attribute{}, 64); ioerr.KindOf(err) != ioerr.Unsupported {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestWiredOpsDelegate(t *testing.T) {
	var gotSize int
	ops := &Ops{
		CreateBlock: func(handle any, size int) ([]byte, error) {
			gotSize = size
			return make([]byte, size), nil
		},
	}
	bops := AsBufferOps(ops)
	data, err := bops.CreateBlockMapped("h", 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 2048 || gotSize != 2048 {
		t.Fatalf("CreateBlockMapped did not delegate correctly: len=%d gotSize=%d", len(data), gotSize)
	}
}
