// Copyright 2025 geot0x1
// SPDX-License-Identifier: Apache-2.0

// Package fcb implements a persistent circular buffer of variable-length
// records on a block-erasable, word-programmable flash device.
//
// Records are appended to a log laid out over a contiguous range of
// sectors. Nothing is ever overwritten in place: sector and record
// lifecycle states are encoded so every forward transition only clears
// bits, and Mount reconstructs the buffer positions from media alone.
package fcb

import (
	"encoding/binary"

	ringbuff "github.com/geot0x1/ring-buff"
)

// FCB is the volatile control block of one flash circular buffer.
//
// It exclusively owns the inclusive sector range [first, last] of its
// device; other instances may share the device on disjoint ranges.
// Everything besides the configuration is reconstructed by Mount.
//
// An FCB must not be shared between goroutines without external
// locking. Mount may erase, so even read paths are not reentrant.
type FCB struct {
	flash ringbuff.Flash

	firstSector uint32
	lastSector  uint32
	sectorSize  uint32

	currentSectorID uint32
	writeAddr       uint32
	readAddr        uint32
	deleteAddr      uint32
}

// New configures a circular buffer over the inclusive sector range
// [first, last] of flash. The range must lie on the device and a sector
// must be able to hold the sector header plus at least one record.
//
// The returned buffer starts in the cold state; call Mount to recover
// positions from media, or Erase to start clean.
func New(flash ringbuff.Flash, first, last uint32) (*FCB, error) {
	if flash == nil || first > last || last >= flash.SectorCount() {
		return nil, ErrInvalidArgument
	}
	if flash.SectorSize() <= SectorHeaderSize+ItemKeySize {
		return nil, ErrInvalidArgument
	}

	fcb := &FCB{
		flash:       flash,
		firstSector: first,
		lastSector:  last,
		sectorSize:  flash.SectorSize(),
	}
	fcb.reset()
	return fcb, nil
}

func (fcb *FCB) reset() {
	fcb.currentSectorID = 0
	start := fcb.firstSector*fcb.sectorSize + SectorHeaderSize
	fcb.writeAddr = start
	fcb.readAddr = start
	fcb.deleteAddr = start
}

// CurrentSectorID returns the sequence id of the most recently
// allocated sector.
func (fcb *FCB) CurrentSectorID() uint32 { return fcb.currentSectorID }

// WriteAddr returns the absolute address where the next record header
// will be programmed.
func (fcb *FCB) WriteAddr() uint32 { return fcb.writeAddr }

// ReadAddr returns the absolute address of the next record to consume.
func (fcb *FCB) ReadAddr() uint32 { return fcb.readAddr }

// DeleteAddr returns the absolute address of the next record to be
// marked consumed.
func (fcb *FCB) DeleteAddr() uint32 { return fcb.deleteAddr }

// FirstSector returns the first owned sector number.
func (fcb *FCB) FirstSector() uint32 { return fcb.firstSector }

// LastSector returns the last owned sector number.
func (fcb *FCB) LastSector() uint32 { return fcb.lastSector }

// SectorSize returns the device sector size in bytes.
func (fcb *FCB) SectorSize() uint32 { return fcb.sectorSize }

// Serial number arithmetic. Sequence ids compare by signed 32-bit
// delta, so ordering survives counter rollover as long as live ids
// differ by less than 2^31.
func seqNewer(a, b uint32) bool { return int32(a-b) > 0 }
func seqOlder(a, b uint32) bool { return int32(a-b) < 0 }

// nextSector returns the ring successor, wrapping last -> first.
func (fcb *FCB) nextSector(sector uint32) uint32 {
	if sector >= fcb.lastSector {
		return fcb.firstSector
	}
	return sector + 1
}

// maxPayload returns the largest payload that fits an empty sector.
func (fcb *FCB) maxPayload() uint32 {
	return min(fcb.sectorSize-SectorHeaderSize-ItemKeySize, 0xFFFF)
}

// appendSector claims a sector for writing: it bumps the sequence
// counter and programs an ALLOCATED header. The sector must be erased.
func (fcb *FCB) appendSector(sector uint32) {
	fcb.currentSectorID++

	hdr := SectorHeader{
		Magic:      sectorMagic,
		SequenceID: fcb.currentSectorID,
		State:      SectorAllocated,
	}

	var buf [SectorHeaderSize]byte
	encodeSectorHeader(buf[:], &hdr)
	hdr.HeaderCRC = Checksum(buf[:8])
	binary.LittleEndian.PutUint32(buf[8:], hdr.HeaderCRC)

	fcb.flash.Program(sector*fcb.sectorSize, buf[:])
}

// Mount reconstructs the write, read and delete positions by scanning
// the owned sectors. It never programs record data, but erases and
// allocates a fresh head sector when the recovered head is full.
//
// Sectors whose header fails validation are skipped; if none are live
// the buffer cold-starts at the first owned sector.
func (fcb *FCB) Mount() error {
	if fcb == nil {
		return ErrInvalidArgument
	}

	var highest, lowest uint32
	headSector, tailSector := -1, -1

	for i := fcb.firstSector; i <= fcb.lastSector; i++ {
		hdr, err := fcb.ReadSectorHeader(i)
		if err != nil {
			continue
		}
		if hdr.State == SectorFresh {
			continue
		}

		if headSector < 0 || seqNewer(hdr.SequenceID, highest) {
			highest = hdr.SequenceID
			headSector = int(i)
		}
		if tailSector < 0 || seqOlder(hdr.SequenceID, lowest) {
			lowest = hdr.SequenceID
			tailSector = int(i)
		}
	}

	if headSector < 0 {
		fcb.reset()
		return nil
	}

	fcb.currentSectorID = highest

	head := uint32(headSector)
	offset, full := fcb.headOffset(head)
	if full {
		// No usable free slot left in the head: rotate now so the
		// next append does not have to.
		next := fcb.nextSector(head)
		fcb.flash.EraseSector(next * fcb.sectorSize)
		fcb.appendSector(next)
		fcb.writeAddr = next*fcb.sectorSize + SectorHeaderSize
	} else {
		fcb.writeAddr = head*fcb.sectorSize + offset
	}

	tail, ok := fcb.tailAddr(uint32(tailSector), head)
	if !ok {
		tail = fcb.writeAddr
	}
	fcb.readAddr = tail
	fcb.deleteAddr = tail
	return nil
}

// Erase wipes every owned sector and resets the control block.
// Erase is idempotent.
func (fcb *FCB) Erase() error {
	if fcb == nil {
		return ErrInvalidArgument
	}

	for i := fcb.firstSector; i <= fcb.lastSector; i++ {
		fcb.flash.EraseSector(i * fcb.sectorSize)
	}

	fcb.reset()
	return nil
}

// Append durably writes one record holding payload.
//
// ErrInvalidArgument: payload is empty or cannot fit an empty sector.
// ErrNoSpace: rotating to the next sector would overwrite the tail.
// Neither error mutates the buffer; the caller must consume records
// before retrying a full ring.
func (fcb *FCB) Append(payload []byte) error {
	if fcb == nil || len(payload) == 0 || uint32(len(payload)) > fcb.maxPayload() {
		return ErrInvalidArgument
	}

	need := uint32(ItemKeySize + len(payload))
	sector := fcb.writeAddr / fcb.sectorSize
	offset := fcb.writeAddr % fcb.sectorSize

	if offset+need > fcb.sectorSize {
		next := fcb.nextSector(sector)
		if next == fcb.readAddr/fcb.sectorSize {
			return ErrNoSpace
		}
		fcb.flash.EraseSector(next * fcb.sectorSize)
		fcb.appendSector(next)
		fcb.writeAddr = next*fcb.sectorSize + SectorHeaderSize
	} else if offset == SectorHeaderSize {
		// First record of a sector that was never claimed: a cold
		// start, or a corrupted head recovered as one. The sector may
		// hold stale bits, so erase before allocating.
		hdr, err := fcb.ReadSectorHeader(sector)
		if err != nil || hdr.State != SectorAllocated {
			fcb.flash.EraseSector(sector * fcb.sectorSize)
			fcb.appendSector(sector)
		}
	}

	key := ItemKey{
		Magic:  itemMagic,
		Len:    uint16(len(payload)),
		CRC:    Checksum(payload),
		Status: ItemValid,
	}

	var buf [ItemKeySize]byte
	encodeItemKey(buf[:], &key)
	fcb.flash.Program(fcb.writeAddr, buf[:])
	fcb.flash.Program(fcb.writeAddr+ItemKeySize, payload)
	fcb.writeAddr += need
	return nil
}
