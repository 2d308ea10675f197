package fcb

import "hash/crc32"

var ieeeCrcTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the CRC32 of data: reversed polynomial 0xEDB88320,
// seed 0xFFFFFFFF, final XOR 0xFFFFFFFF. It guards both sector headers
// and record payloads.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, ieeeCrcTable)
}
