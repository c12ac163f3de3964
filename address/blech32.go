package address

import (
	"fmt"
	"strings"
)

// blech32 is bech32 (BIP173) generalised to a 12-word (60-bit)
// checksum instead of bech32's 6-word (30-bit) one, the widening the
// Elements project's blech32 specification requires so a confidential
// segwit address (witness program plus a 33-byte blinding pubkey) gets
// the same error-detection strength per payload byte that bech32 gives
// an unconfidential one. The charset and HRP-expansion rules are
// unchanged from bech32; only the polymod's generator and state width
// differ. This implementation only covers witness version 0 (the only
// version the descriptor model's P2WPKH/P2WSH templates produce), so
// the BLECH32_CONST (as opposed to BLECH32M_CONST for v1+) is the only
// one needed.
const blech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var blech32Generator = [5]uint64{
	0x7d52fba40bd886,
	0x5e8dbf1a03950c,
	0x1c3a3c74072a21,
	0x947f5f5f44a5b0,
	0x44fc5dcfb3e04e,
}

const blech32Const = uint64(1)
const blech32ChecksumLen = 12

func blech32Polymod(values []byte) uint64 {
	chk := uint64(1)
	for _, v := range values {
		top := chk >> 55
		chk = (chk&0x7fffffffffffff)<<5 ^ uint64(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= blech32Generator[i]
			}
		}
	}
	return chk
}

func blech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

func blech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(blech32HRPExpand(hrp), data...)
	values = append(values, make([]byte, blech32ChecksumLen)...)
	mod := blech32Polymod(values) ^ blech32Const

	checksum := make([]byte, blech32ChecksumLen)
	for i := 0; i < blech32ChecksumLen; i++ {
		shift := uint(5 * (blech32ChecksumLen - 1 - i))
		checksum[i] = byte((mod >> shift) & 31)
	}
	return checksum
}

func blech32Encode(hrp string, data []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("address: empty blech32 hrp")
	}
	checksum := blech32CreateChecksum(hrp, data)
	combined := append(append([]byte(nil), data...), checksum...)

	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, b := range combined {
		if int(b) >= len(blech32Charset) {
			return "", fmt.Errorf("address: invalid 5-bit value %d", b)
		}
		sb.WriteByte(blech32Charset[b])
	}
	return sb.String(), nil
}

func blech32VerifyChecksum(hrp string, data []byte) bool {
	values := append(blech32HRPExpand(hrp), data...)
	return blech32Polymod(values) == blech32Const
}

func blech32Decode(addr string) (hrp string, data []byte, err error) {
	lower := strings.ToLower(addr)
	upper := strings.ToUpper(addr)
	if addr != lower && addr != upper {
		return "", nil, fmt.Errorf("address: mixed-case blech32 string")
	}
	addr = lower

	sep := strings.LastIndex(addr, "1")
	if sep < 1 || sep+blech32ChecksumLen+1 > len(addr) {
		return "", nil, fmt.Errorf("address: invalid blech32 separator position")
	}

	hrp = addr[:sep]
	dataPart := addr[sep+1:]

	data = make([]byte, len(dataPart))
	for i, c := range dataPart {
		idx := strings.IndexRune(blech32Charset, c)
		if idx < 0 {
			return "", nil, fmt.Errorf("address: invalid blech32 character %q", c)
		}
		data[i] = byte(idx)
	}

	if !blech32VerifyChecksum(hrp, data) {
		return "", nil, fmt.Errorf("address: invalid blech32 checksum")
	}
	return hrp, data[:len(data)-blech32ChecksumLen], nil
}

// tryBlech32 mirrors tryBech32's shape: returns the 5-bit data payload
// (witness version plus converted program/blinding-pubkey) if addr is
// a valid blech32 string for hrp.
func tryBlech32(addr, hrp string) ([]byte, bool) {
	gotHRP, data, err := blech32Decode(addr)
	if err != nil || gotHRP != hrp {
		return nil, false
	}
	return data, true
}
