package sdcard

// CRC7 computes the 7-bit command CRC (polynomial x^7 + x^3 + 1) and
// returns it in the upper 7 bits with the end bit set, ready to send as the
// last byte of a command frame.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			crc <<= 1
			if (b<<i)&0x80 != crc&0x80 {
				crc ^= 0x09
			}
		}
	}
	return crc<<1 | 0x01
}

// CRC16 computes the CRC-16/XMODEM (CCITT polynomial 0x1021, initial
// value 0) used on data blocks.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
