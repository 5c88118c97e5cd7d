package replica

// CRC-64 with the Jones polynomial as used by the RDB trailer:
// poly 0xad93d23594c935a9 (reflected form 0x95ac9329ac4bc9b5),
// init 0, no final xor. hash/crc64's ISO/ECMA digests invert the
// running value, so the table is built here instead.

const crc64Poly = 0x95ac9329ac4bc9b5

var crc64Table [256]uint64

func init() {
	for i := 0; i < 256; i++ {
		crc := uint64(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ crc64Poly
			} else {
				crc >>= 1
			}
		}
		crc64Table[i] = crc
	}
}

// crc64Update folds p into the running checksum
func crc64Update(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = crc64Table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
