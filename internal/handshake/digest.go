package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
)

// genuineFPKey and genuineFMSKey are the well-known constants used by every
// RTMP implementation to validate and sign the complex ("digest") handshake.
// The first block of each is ASCII text; the remainder is a fixed random
// block specified alongside it. Only a prefix of each is used as the HMAC
// key when signing C1/S1 respectively; the full key is used when deriving
// the S2 temp key from the client's C1 digest.
var genuineFPKey = []byte{
	0x47, 0x65, 0x6e, 0x75, 0x69, 0x6e, 0x65, 0x20, 0x41, 0x64, 0x6f, 0x62, 0x65,
	0x20, 0x46, 0x6c, 0x61, 0x73, 0x68, 0x20, 0x50, 0x6c, 0x61, 0x79, 0x65, 0x72,
	0x20, 0x30, 0x30, 0x31, // "Genuine Adobe Flash Player 001"
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8, 0x2e, 0x00, 0xd0, 0xd1, 0x02,
	0x9e, 0x7e, 0x57, 0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab, 0x93, 0xb8,
	0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

var genuineFMSKey = []byte{
	0x47, 0x65, 0x6e, 0x75, 0x69, 0x6e, 0x65, 0x20, 0x41, 0x64, 0x6f, 0x62, 0x65,
	0x20, 0x46, 0x6c, 0x61, 0x73, 0x68, 0x20, 0x4d, 0x65, 0x64, 0x69, 0x61, 0x20,
	0x53, 0x65, 0x72, 0x76, 0x65, 0x72, 0x20, 0x30, 0x30, 0x31, // "Genuine Adobe Flash Media Server 001"
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8, 0x2e, 0x00, 0xd0, 0xd1, 0x02,
	0x9e, 0x7e, 0x57, 0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab, 0x93, 0xb8,
	0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

const (
	fpKeyPartialLen  = 30 // length of the ASCII "Genuine Adobe Flash Player 001" text
	fmsKeyPartialLen = 36 // length of the ASCII "Genuine Adobe Flash Media Server 001" text
)

// getDigestOffset0 computes the scheme-0 digest offset seed: the sum of the
// 4 bytes immediately following the 8-byte time/version header.
func getDigestOffset0(p []byte) int {
	return int(p[8]) + int(p[9]) + int(p[10]) + int(p[11])
}

// getDigestOffset1 computes the scheme-1 digest offset seed from the 4 bytes
// at the midpoint of the handshake block.
func getDigestOffset1(p []byte) int {
	return int(p[772]) + int(p[773]) + int(p[774]) + int(p[775])
}

// calcDigest returns HMAC-SHA256(key, packet with the 32 bytes at offset
// excised), the digest every complex-handshake scheme embeds back into the
// packet at that same offset.
func calcDigest(packet, key []byte, offset int) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(packet[:offset])
	h.Write(packet[offset+32:])
	return h.Sum(nil)
}

func calcHMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// digestOffset resolves a scheme (0 or 1) against packet to the absolute
// byte offset of its embedded digest.
func digestOffset(packet []byte, scheme int) int {
	if scheme == 0 {
		return (getDigestOffset0(packet) % 728) + 12
	}
	return (getDigestOffset1(packet) % 728) + 776
}
