// Copyright 2025 geot0x1
// SPDX-License-Identifier: Apache-2.0

package fcb

import "errors"

// freeMargin is the run of 0xFF bytes required to declare an offset
// free during head recovery: two ItemKey strides. A single stray erased
// word inside record data must not pass for free space.
const freeMargin = 2 * ItemKeySize

// headOffset walks the head sector from the first record offset and
// returns the offset of the first free slot. full reports that no
// qualifying slot is left.
//
// Valid records (including popped ones) are stepped over by length;
// anything else advances a single byte, which resynchronizes the walk
// after a run of corrupted bytes from an interrupted write.
func (fcb *FCB) headOffset(sector uint32) (offset uint32, full bool) {
	base := sector * fcb.sectorSize

	var margin [freeMargin]byte
	for offset = SectorHeaderSize; offset+freeMargin <= fcb.sectorSize; {
		fcb.flash.Read(base+offset, margin[:])
		if erased(margin[:]) {
			return offset, false
		}

		if key, err := fcb.ReadItemAt(base + offset); err == nil {
			offset += ItemKeySize + uint32(key.Len)
		} else {
			offset++
		}
	}
	return 0, true
}

func erased(p []byte) bool {
	for _, b := range p {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// tailAddr scans sectors from tail forward in ring order up to head
// inclusive and returns the address of the first parsable record.
func (fcb *FCB) tailAddr(tail, head uint32) (addr uint32, ok bool) {
	for sector := tail; ; sector = fcb.nextSector(sector) {
		base := sector * fcb.sectorSize
		for offset := uint32(SectorHeaderSize); offset+ItemKeySize <= fcb.sectorSize; offset++ {
			if _, err := fcb.ReadItemAt(base + offset); err == nil {
				return base + offset, true
			}
		}
		if sector == head {
			return 0, false
		}
	}
}

// Walk visits records in append order starting at the read position,
// calling fn with each record's absolute address, key and payload
// until fn returns false or the write position is reached.
//
// Records whose payload fails its checksum are stepped over by length;
// bytes that do not parse as a record are skipped one at a time. The
// walk does not consume: the read and delete positions are unchanged.
func (fcb *FCB) Walk(fn func(addr uint32, key ItemKey, payload []byte) bool) {
	addr := fcb.readAddr
	writeSector := fcb.writeAddr / fcb.sectorSize
	sectors := fcb.lastSector - fcb.firstSector + 2

	for addr != fcb.writeAddr {
		sector := addr / fcb.sectorSize
		offset := addr % fcb.sectorSize

		if offset+ItemKeySize > fcb.sectorSize {
			if sector == writeSector {
				return
			}
			if sectors--; sectors == 0 {
				return
			}
			addr = fcb.nextSector(sector)*fcb.sectorSize + SectorHeaderSize
			continue
		}

		key, payload, err := fcb.ReadRecord(addr)
		switch {
		case err == nil:
			if !fn(addr, key, payload) {
				return
			}
			addr += ItemKeySize + uint32(key.Len)
		case errors.Is(err, ErrInvalidChecksum):
			// Truncated payload from a lost write: the header is
			// intact, so the length still advances the walk.
			addr += ItemKeySize + uint32(key.Len)
		case errors.Is(err, ErrErased):
			// Free space: end of log in the head sector, otherwise
			// the unused gap before a sector boundary.
			if sector == writeSector {
				return
			}
			if sectors--; sectors == 0 {
				return
			}
			addr = fcb.nextSector(sector)*fcb.sectorSize + SectorHeaderSize
			continue
		default:
			addr++
		}
	}
}
