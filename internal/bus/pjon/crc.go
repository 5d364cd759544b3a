package pjon

import "hash/crc32"

const crcPolynomial = 0x97

// CRC8 computes the PJON 8-bit checksum of data.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcRoll(b, crc)
	}
	return crc
}

func crcRoll(input, crc byte) byte {
	for i := 8; i > 0; i-- {
		carry := (crc ^ input) & 0x01
		crc >>= 1
		if carry != 0 {
			crc ^= crcPolynomial
		}
		input >>= 1
	}
	return crc
}

// CRC32 computes the PJON 32-bit checksum of data. PJON uses the IEEE
// polynomial, reflected, with the result sent most significant byte first.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
