// Copyright 2025 geot0x1
// SPDX-License-Identifier: Apache-2.0

package fcb

import (
	"encoding/binary"
	"fmt"
)

const (
	// SectorHeaderSize is the fixed size of the header at offset 0 of
	// every owned sector: magic, sequence id, header crc, state.
	SectorHeaderSize = 16

	// ItemKeySize is the fixed size of a record header: magic, length,
	// payload crc, status.
	ItemKeySize = 12
)

const (
	sectorMagic = 0xCAFEBABE
	itemMagic   = 0xA55A
)

// Sector state machine.
//
// NOR flash bits can only transition from 1 -> 0 without an erase.
// The state values are chosen so each forward transition only clears
// bits:
//
//	FRESH (erased) -> ALLOCATED (writing) -> CONSUMED (garbage)
//	0xFFFFFFFF     -> 0x7FFFFFFF          -> 0x0FFFFFFF
const (
	SectorFresh     uint32 = 0xFFFFFFFF
	SectorAllocated uint32 = 0x7FFFFFFF
	SectorConsumed  uint32 = 0x0FFFFFFF

	// SectorInvalid is the in-memory value for a header that failed to
	// parse. It is never programmed; the mount scan skips such sectors
	// without recording a state for them.
	SectorInvalid uint32 = 0x00000000
)

// Record status, same principle: writing a record clears the high half
// of the status word, consuming it later clears the rest.
const (
	ItemErased uint32 = 0xFFFFFFFF
	ItemValid  uint32 = 0x0000FFFF
	ItemPopped uint32 = 0x00000000
)

// SectorHeader sits at the beginning of every owned sector and provides
// identification (magic), ordering (sequence id), integrity (header crc)
// and lifecycle (state).
//
// HeaderCRC covers only Magic and SequenceID (the first 8 encoded
// bytes). State is excluded so lifecycle transitions, which clear bits
// in place, never invalidate the checksum.
type SectorHeader struct {
	Magic      uint32
	SequenceID uint32
	HeaderCRC  uint32
	State      uint32
}

// ItemKey is the header preceding every record payload.
type ItemKey struct {
	Magic  uint16
	Len    uint16
	CRC    uint32
	Status uint32
}

func encodeSectorHeader(buf []byte, hdr *SectorHeader) {
	binary.LittleEndian.PutUint32(buf[0:], hdr.Magic)
	binary.LittleEndian.PutUint32(buf[4:], hdr.SequenceID)
	binary.LittleEndian.PutUint32(buf[8:], hdr.HeaderCRC)
	binary.LittleEndian.PutUint32(buf[12:], hdr.State)
}

func decodeSectorHeader(buf []byte) (hdr SectorHeader) {
	hdr.Magic = binary.LittleEndian.Uint32(buf[0:])
	hdr.SequenceID = binary.LittleEndian.Uint32(buf[4:])
	hdr.HeaderCRC = binary.LittleEndian.Uint32(buf[8:])
	hdr.State = binary.LittleEndian.Uint32(buf[12:])
	return
}

func encodeItemKey(buf []byte, key *ItemKey) {
	binary.LittleEndian.PutUint16(buf[0:], key.Magic)
	binary.LittleEndian.PutUint16(buf[2:], key.Len)
	binary.LittleEndian.PutUint32(buf[4:], key.CRC)
	binary.LittleEndian.PutUint32(buf[8:], key.Status)
}

func decodeItemKey(buf []byte) (key ItemKey) {
	key.Magic = binary.LittleEndian.Uint16(buf[0:])
	key.Len = binary.LittleEndian.Uint16(buf[2:])
	key.CRC = binary.LittleEndian.Uint32(buf[4:])
	key.Status = binary.LittleEndian.Uint32(buf[8:])
	return
}

// ReadSectorHeader reads and validates the header of the given sector.
// The returned error is ErrUnknownMagicCode or ErrInvalidChecksum when
// the sector is not a valid FCB sector; State is untrusted in that case.
func (fcb *FCB) ReadSectorHeader(sector uint32) (hdr SectorHeader, err error) {
	var buf [SectorHeaderSize]byte
	fcb.flash.Read(sector*fcb.sectorSize, buf[:])

	hdr = decodeSectorHeader(buf[:])
	if hdr.Magic != sectorMagic {
		err = fmt.Errorf("sector(%d) has %w", sector, ErrUnknownMagicCode)
		return
	}
	if Checksum(buf[:8]) != hdr.HeaderCRC {
		err = fmt.Errorf("sector(%d) header has %w", sector, ErrInvalidChecksum)
	}
	return
}

// ReadItemAt parses the record header at the absolute address addr.
//
// ErrErased: the slot's status was never programmed (free space, or a
// header interrupted before its status was written).
// ErrUnknownMagicCode: the bytes are not a record header.
// ErrBadRecord: the header parses but its length cannot be valid here.
func (fcb *FCB) ReadItemAt(addr uint32) (key ItemKey, err error) {
	var buf [ItemKeySize]byte
	fcb.flash.Read(addr, buf[:])

	key = decodeItemKey(buf[:])
	if key.Status == ItemErased {
		err = ErrErased
		return
	}
	if key.Magic != itemMagic {
		err = ErrUnknownMagicCode
		return
	}
	if key.Len == 0 || uint32(key.Len) > fcb.maxPayload() {
		err = ErrBadRecord
		return
	}
	if addr%fcb.sectorSize+ItemKeySize+uint32(key.Len) > fcb.sectorSize {
		// Records never straddle a sector boundary.
		err = ErrBadRecord
	}
	return
}

// ReadRecord reads the record at addr and verifies the payload checksum.
func (fcb *FCB) ReadRecord(addr uint32) (key ItemKey, payload []byte, err error) {
	if key, err = fcb.ReadItemAt(addr); err != nil {
		return
	}

	payload = make([]byte, key.Len)
	fcb.flash.Read(addr+ItemKeySize, payload)
	if Checksum(payload) != key.CRC {
		payload = nil
		err = fmt.Errorf("record(0x%08X) payload has %w", addr, ErrInvalidChecksum)
	}
	return
}
