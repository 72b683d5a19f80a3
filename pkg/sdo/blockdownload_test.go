package sdo

import (
	"testing"

	"github.com/marel/canmaster/internal/crc"
	"github.com/marel/canmaster/pkg/frame"
)

func TestServerBlockDownloadHappyPath(t *testing.T) {
	sm := NewServerBlockDownload(64)

	var initReq frame.Frame
	initReq = frame.SetCs(initReq, BlockDlInitReq)
	initReq = frame.SetMux(initReq, 0x2000, 1)
	initReq = frame.SetToggle(initReq, true) // crc enabled

	out, ok := sm.Step(initReq)
	if !ok || frame.GetCs(out) != BlockDlRes {
		t.Fatalf("init: out=%v ok=%v", out, ok)
	}
	if sm.State != StateSeg {
		t.Fatalf("state after init = %v, want SEG", sm.State)
	}

	payload := []byte("hello, block transfer!") // 22 bytes, spans 4 segments of 7
	wire := make([]byte, 28)                    // what actually goes out on the wire, zero-padded to 4*7
	copy(wire, payload)
	var sum crc.CRC16
	sum.Block(wire)

	var seg frame.Frame
	seg = frame.SetSeqno(seg, false, 1)
	copy(seg[1:8], wire[0:7])
	if _, ok := sm.Step(seg); ok {
		t.Fatal("mid-subblock segment should not produce an ack")
	}

	seg = frame.SetSeqno(seg, false, 2)
	copy(seg[1:8], wire[7:14])
	sm.Step(seg)

	seg = frame.SetSeqno(seg, false, 3)
	copy(seg[1:8], wire[14:21])
	sm.Step(seg)

	seg = frame.SetSeqno(seg, true, 4)
	copy(seg[1:8], wire[21:28])
	ackOut, ok := sm.Step(seg)
	if !ok || frame.GetCs(ackOut) != BlockDlRes {
		t.Fatalf("final sub-block ack: out=%v ok=%v", ackOut, ok)
	}
	if sm.State != StateSegToggled {
		t.Fatalf("state after last segment = %v, want SEG_TOGGLED", sm.State)
	}

	var end frame.Frame
	end = frame.SetCs(end, BlockDlEnd)
	end[1] = byte(sum)
	end[2] = byte(sum >> 8)
	end[3] = byte(7 - 1) // 6 padding bytes in the last 7-byte segment

	out, ok = sm.Step(end)
	if !ok || frame.GetCs(out) != BlockDlRes {
		t.Fatalf("end: out=%v ok=%v", out, ok)
	}
	if sm.State != StateDone {
		t.Fatalf("state after end = %v, want DONE", sm.State)
	}
	if string(sm.Data) != string(payload) {
		t.Fatalf("Data = %q, want %q", sm.Data, payload)
	}
}

func TestServerBlockDownloadCRCMismatchAborts(t *testing.T) {
	sm := NewServerBlockDownload(64)
	var initReq frame.Frame
	initReq = frame.SetCs(initReq, BlockDlInitReq)
	initReq = frame.SetToggle(initReq, true)
	sm.Step(initReq)

	var seg frame.Frame
	seg = frame.SetSeqno(seg, true, 1)
	sm.Step(seg)

	var end frame.Frame
	end = frame.SetCs(end, BlockDlEnd)
	end[1], end[2] = 0xAA, 0xBB // wrong CRC
	out, ok := sm.Step(end)
	if !ok {
		t.Fatal("expected an abort frame")
	}
	if frame.GetCs(out) != frame.Abort {
		t.Fatalf("cs = %d, want Abort", frame.GetCs(out))
	}
	if sm.State != StateAbort {
		t.Fatalf("state = %v, want ABORT", sm.State)
	}
}

func TestServerBlockDownloadRejectsWrongInitCs(t *testing.T) {
	sm := NewServerBlockDownload(64)
	var bad frame.Frame
	bad = frame.SetCs(bad, frame.DlSegReq)
	out, ok := sm.Step(bad)
	if !ok || frame.GetCs(out) != frame.Abort {
		t.Fatalf("out=%v ok=%v, want an Abort frame", out, ok)
	}
	if sm.State != StateAbort {
		t.Fatalf("state = %v, want ABORT", sm.State)
	}
}
