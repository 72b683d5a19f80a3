package canerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsUnwrapThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("sdoengine: node %d: %w", 5, ErrQueueFull)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatal("expected errors.Is to find ErrQueueFull through the wrap")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("ErrQueueFull must not satisfy errors.Is(ErrTimeout)")
	}
}

func TestSdoAbortCarriesFields(t *testing.T) {
	var err error = &SdoAbort{NodeID: 5, Index: 0x1018, Sub: 1, Code: 0x06020000}
	var abort *SdoAbort
	if !errors.As(err, &abort) {
		t.Fatal("expected errors.As to extract *SdoAbort")
	}
	if abort.NodeID != 5 || abort.Index != 0x1018 || abort.Sub != 1 {
		t.Fatalf("unexpected fields: %+v", abort)
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("dial refused")
	err := &TransportError{Op: "dial can0", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestEdsParseErrorFormatsWithAndWithoutLine(t *testing.T) {
	cause := errors.New("missing required deviceinfo key")
	withLine := &EdsParseError{Path: "pump.eds", Line: 12, Err: cause}
	if got := withLine.Error(); got != "eds: pump.eds:12: missing required deviceinfo key" {
		t.Fatalf("unexpected message: %q", got)
	}
	withoutLine := &EdsParseError{Path: "pump.eds", Err: cause}
	if got := withoutLine.Error(); got != "eds: pump.eds: missing required deviceinfo key" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(withoutLine, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}
