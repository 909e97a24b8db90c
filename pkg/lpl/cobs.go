package lpl

import "fmt"

// cobsEncode applies Consistent Overhead Byte Stuffing to src, removing every
// interior zero byte so the caller can use 0x00 as a frame delimiter. The
// returned slice never contains a zero byte.
func cobsEncode(src []byte) []byte {
	dst := make([]byte, 0, cobsMaxEncodedLen(len(src)))

	// codePos indexes the length byte of the block currently being built;
	// it is back-patched once the block closes (on a zero byte, or after
	// 254 non-zero bytes).
	codePos := 0
	dst = append(dst, 0) // placeholder for the first block's length
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codePos] = code
			codePos = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codePos] = code
			codePos = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codePos] = code
	return dst
}

func cobsMaxEncodedLen(n int) int {
	if n == 0 {
		return 1
	}
	return n + (n+253)/254
}

// cobsDecode reverses cobsEncode. It fails if src is empty or a block length
// would read past the end of the buffer (corrupt or truncated input).
func cobsDecode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty cobs buffer", ErrCobsDecode)
	}

	dst := make([]byte, 0, len(src))
	idx := 0
	for idx < len(src) {
		code := int(src[idx])
		if code == 0 {
			return nil, fmt.Errorf("%w: zero code byte at offset %d", ErrCobsDecode, idx)
		}
		idx++
		for i := 1; i < code; i++ {
			if idx >= len(src) {
				return nil, fmt.Errorf("%w: block of length %d overruns buffer at offset %d", ErrCobsDecode, code, idx)
			}
			dst = append(dst, src[idx])
			idx++
		}
		if code < 0xFF && idx < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
