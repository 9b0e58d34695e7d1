package wire

import (
	"encoding/binary"
	"testing"

	"github.com/javi11/streamloader/internal/session"
)

func TestBuildRangeRequestLayout(t *testing.T) {
	var fid session.FileID
	for i := range fid {
		fid[i] = byte(i + 1)
	}

	pkt, err := BuildRangeRequest(7, fid, 0, 200000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkt) != packetLen {
		t.Fatalf("expected %d byte packet, got %d", packetLen, len(pkt))
	}

	if got := binary.BigEndian.Uint16(pkt[0:2]); got != 7 {
		t.Fatalf("channel id mismatch: got %d", got)
	}
	if pkt[2] != 0x00 || pkt[3] != 0x01 {
		t.Fatalf("unexpected static bytes at offset 2-3: %v", pkt[2:4])
	}
	if got := binary.BigEndian.Uint32(pkt[10:14]); got != 0x00009C40 {
		t.Fatalf("unexpected static word at offset 10: %#x", got)
	}
	if got := binary.BigEndian.Uint32(pkt[14:18]); got != 0x00020000 {
		t.Fatalf("unexpected static word at offset 14: %#x", got)
	}
	for i, b := range pkt[18:38] {
		if b != fid[i] {
			t.Fatalf("file id mismatch at %d: got %#x want %#x", i, b, fid[i])
		}
	}
	if got := binary.BigEndian.Uint32(pkt[38:42]); got != 0 {
		t.Fatalf("expected start word 0, got %d", got)
	}
	if got := binary.BigEndian.Uint32(pkt[42:46]); got != 50000 {
		t.Fatalf("expected end word 50000 (200000/4), got %d", got)
	}
}

func TestBuildRangeRequestRejectsUnaligned(t *testing.T) {
	var fid session.FileID
	if _, err := BuildRangeRequest(0, fid, 1, 100); err == nil {
		t.Fatal("expected error for unaligned offset")
	}
	if _, err := BuildRangeRequest(0, fid, 0, 101); err == nil {
		t.Fatal("expected error for unaligned length")
	}
}
