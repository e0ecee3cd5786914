package evmexact

import (
	"encoding/hex"
	"strings"
)

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func bytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
