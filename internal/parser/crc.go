package parser

import "github.com/sigurn/crc16"

// The two frame trailers use different CRC16 flavours. ASCII telegrams carry
// an ARC checksum (0xA001 feedback, zero init) over everything from the
// leading '/' through the '!' marker. Binary telegrams carry an X.25
// checksum (0x8408 feedback, 0xFFFF init and final XOR) over the frame
// content between the 0x7E markers.
var (
	asciiCRCTable  = crc16.MakeTable(crc16.CRC16_ARC)
	binaryCRCTable = crc16.MakeTable(crc16.CRC16_X_25)
)

// asciiChecksum computes the checksum of the ASCII telegram body.
func asciiChecksum(data []byte) uint16 {
	return crc16.Checksum(data, asciiCRCTable)
}

// binaryChecksum computes the checksum of the binary frame content.
func binaryChecksum(data []byte) uint16 {
	return crc16.Checksum(data, binaryCRCTable)
}
