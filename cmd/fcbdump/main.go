// fcbdump is a simple CLI tool for browsing flash circular buffer images.
//
// Usage:
//
//	fcbdump <image>                # interactive sector browser
//	fcbdump -l <image>             # list records
//	fcbdump -l -n 20 <image>       # list first 20 records
//	fcbdump -s 4096 <image>        # 4 KiB sectors
//	fcbdump -first 8 -last 15 ...  # buffer owns sectors 8..15
//
// Interactive mode:
//
//	j/↓    next sector
//	k/↑    previous sector
//	d/u    scroll hex dump
//	g      jump to first sector
//	G      jump to last sector
//	q/Esc  quit
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/geot0x1/ring-buff/fcb"
	"github.com/geot0x1/ring-buff/mem"
	"golang.org/x/term"
)

func main() {
	listFlag := flag.Bool("l", false, "list records (non-interactive)")
	countFlag := flag.Int("n", 0, "number of records (0 = all)")
	sizeFlag := flag.Uint("s", mem.DefaultSectorSize, "sector size in bytes")
	firstFlag := flag.Uint("first", 0, "first sector owned by the buffer")
	lastFlag := flag.Uint("last", 0, "last sector owned by the buffer (0 = device end)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fcbdump [-l] [-n count] [-s size] [-first n] [-last n] <image>")
		os.Exit(1)
	}

	flash, buffer := open(flag.Arg(0), uint32(*sizeFlag), uint32(*firstFlag), uint32(*lastFlag))

	if *listFlag {
		runList(buffer, *countFlag)
		return
	}

	runInteractive(flash, buffer)
}

func open(filename string, sectorSize, first, last uint32) (*mem.Flash, *fcb.FCB) {
	f, err := os.Open(filename)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fatal(err)
	}

	count := uint32(1)
	for int64(count)*int64(sectorSize) < info.Size() {
		count <<= 1
	}

	flash, err := mem.NewFlash(sectorSize, count)
	if err != nil {
		fatal(fmt.Errorf("geometry: %w", err))
	}
	if _, err = flash.ReadFrom(bufio.NewReader(f)); err != nil {
		fatal(err)
	}

	if last == 0 {
		last = flash.SectorCount() - 1
	}
	buffer, err := fcb.New(flash, first, last)
	if err != nil {
		fatal(fmt.Errorf("first/last: %w", err))
	}
	if err = buffer.Mount(); err != nil {
		fatal(err)
	}
	return flash, buffer
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func runList(buffer *fcb.FCB, count int) {
	fmt.Printf("sector id %d  write 0x%08X  read 0x%08X  delete 0x%08X\n",
		buffer.CurrentSectorID(), buffer.WriteAddr(), buffer.ReadAddr(), buffer.DeleteAddr())

	n := 0
	buffer.Walk(func(addr uint32, key fcb.ItemKey, payload []byte) bool {
		if count > 0 && n >= count {
			return false
		}
		fmt.Printf("0x%08X: len=%-5d crc=%08X %s %s\n",
			addr, key.Len, key.CRC, status(key.Status), display(payload, 48))
		n++
		return true
	})
}

func status(s uint32) string {
	switch s {
	case fcb.ItemValid:
		return "valid "
	case fcb.ItemPopped:
		return "popped"
	default:
		return fmt.Sprintf("%08X", s)
	}
}

func display(val []byte, width int) string {
	out := make([]byte, 0, width)
	for _, b := range val {
		if len(out) >= width {
			out = append(out, '.', '.', '.')
			break
		}
		if b >= 0x20 && b < 0x7F {
			out = append(out, b)
		} else {
			out = append(out, '.')
		}
	}
	return string(out)
}

func runInteractive(flash *mem.Flash, buffer *fcb.FCB) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fatal(err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	v := &viewer{
		flash:  flash,
		buffer: buffer,
		sector: buffer.FirstSector(),
	}
	v.updateSize()

	fmt.Print("\033[?25l\033[2J")             // hide cursor, clear screen once
	defer fmt.Print("\033[?25h\033[2J\033[H") // show cursor, clear screen

	reader := bufio.NewReader(os.Stdin)

	for {
		v.updateSize()
		v.render()

		b, err := reader.ReadByte()
		if err != nil {
			break
		}

		switch b {
		case 'q', 3: // q, Ctrl+C
			return
		case 27: // Esc or escape sequence
			if reader.Buffered() == 0 {
				return
			}
			b2, _ := reader.ReadByte()
			if b2 == '[' {
				b3, _ := reader.ReadByte()
				switch b3 {
				case 'A': // up
					v.prev()
				case 'B': // down
					v.next()
				}
			}
		case 'j':
			v.next()
		case 'k':
			v.prev()
		case 'd':
			v.scroll(int64(v.rows()))
		case 'u':
			v.scroll(-int64(v.rows()))
		case 'g':
			v.sector = buffer.FirstSector()
			v.offset = 0
		case 'G':
			v.sector = buffer.LastSector()
			v.offset = 0
		}
	}
}

type viewer struct {
	flash  *mem.Flash
	buffer *fcb.FCB
	sector uint32
	offset uint32 // hex dump scroll position within the sector
	width  int
	height int
}

func (v *viewer) updateSize() {
	w, h, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		w, h = 80, 24
	}
	v.width, v.height = w, h
}

func (v *viewer) rows() uint32 {
	if v.height <= 6 {
		return 1
	}
	return uint32(v.height - 6) // title + header info + separators + status
}

func (v *viewer) next() {
	if v.sector < v.buffer.LastSector() {
		v.sector++
		v.offset = 0
	}
}

func (v *viewer) prev() {
	if v.sector > v.buffer.FirstSector() {
		v.sector--
		v.offset = 0
	}
}

func (v *viewer) scroll(rows int64) {
	size := v.buffer.SectorSize()
	offset := int64(v.offset) + rows*16
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(size) {
		offset = int64(size) - 16
	}
	v.offset = uint32(offset)
}

func (v *viewer) render() {
	fmt.Print("\033[H")

	base := v.sector * v.buffer.SectorSize()
	fmt.Printf("\033[Ksector %d  base 0x%08X  write 0x%08X  read 0x%08X\r\n",
		v.sector, base, v.buffer.WriteAddr(), v.buffer.ReadAddr())

	hdr, err := v.buffer.ReadSectorHeader(v.sector)
	switch {
	case errors.Is(err, fcb.ErrUnknownMagicCode) && hdr.State == fcb.SectorFresh && hdr.Magic == 0xFFFFFFFF:
		fmt.Print("\033[Kheader: fresh (erased)\r\n")
	case err != nil:
		fmt.Printf("\033[Kheader: invalid (%v)\r\n", err)
	default:
		fmt.Printf("\033[Kheader: seq=%d crc=%08X state=%s\r\n",
			hdr.SequenceID, hdr.HeaderCRC, sectorState(hdr.State))
	}
	fmt.Print("\033[K\r\n")

	buf := make([]byte, 16)
	rows := v.rows()
	for i := uint32(0); i < rows; i++ {
		offset := v.offset + i*16
		if offset >= v.buffer.SectorSize() {
			fmt.Print("\033[K\r\n")
			continue
		}
		v.flash.Read(base+offset, buf)
		fmt.Printf("\033[K%08X: % X  %s\r\n", base+offset, buf, display(buf, 16))
	}

	fmt.Print("\033[K\r\n\033[Kj/k sector  d/u scroll  g/G ends  q quit")
}

func sectorState(s uint32) string {
	switch s {
	case fcb.SectorFresh:
		return "fresh"
	case fcb.SectorAllocated:
		return "allocated"
	case fcb.SectorConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("%08X", s)
	}
}
