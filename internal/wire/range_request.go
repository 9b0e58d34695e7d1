// Package wire builds the flat binary range-request packet the server
// expects (§4.6 of the loader spec). Packet encryption, compression and
// transport framing live upstream of this package.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/javi11/streamloader/internal/session"
)

// RequestOpcode is the session.SendPacket opcode for audio range
// requests.
const RequestOpcode uint8 = 0x08

// packetLen is the fixed size of a range-request payload: 2+1+1+2+4+4+4+20+4+4.
const packetLen = 46

// BuildRangeRequest encodes a server range request for [offset, offset+length)
// on channelID, addressed to fileID. offset and length MUST already be
// 4-byte aligned — the Fetcher enforces this before calling here
// (internal/fetch applies the alignment rule of §4.2).
func BuildRangeRequest(channelID uint16, fileID session.FileID, offset, length int64) ([]byte, error) {
	if offset%4 != 0 || length%4 != 0 {
		return nil, fmt.Errorf("wire: range request offset/length must be 4-byte aligned, got offset=%d length=%d", offset, length)
	}

	start := uint32(offset / 4)
	end := uint32((offset + length) / 4)

	buf := make([]byte, packetLen)
	binary.BigEndian.PutUint16(buf[0:2], channelID)
	buf[2] = 0x00
	buf[3] = 0x01
	binary.BigEndian.PutUint16(buf[4:6], 0x0000)
	binary.BigEndian.PutUint32(buf[6:10], 0x00000000)
	binary.BigEndian.PutUint32(buf[10:14], 0x00009C40)
	binary.BigEndian.PutUint32(buf[14:18], 0x00020000)
	copy(buf[18:38], fileID[:])
	binary.BigEndian.PutUint32(buf[38:42], start)
	binary.BigEndian.PutUint32(buf[42:46], end)

	return buf, nil
}
