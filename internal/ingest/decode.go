package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/unicode/norm"
)

// Encoding names the byte encoding of a text upload.
type Encoding string

const (
	EncodingAuto  Encoding = "auto"
	EncodingUTF8  Encoding = "utf-8"
	EncodingCP949 Encoding = "cp949"
)

// ParseEncoding maps a user-supplied encoding label onto an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "cp949", "euc-kr", "euckr", "ks_c_5601-1987", "uhc":
		return EncodingCP949, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want auto, utf-8 or cp949)", s)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// maxReplacementRatio is the share of U+FFFD runes above which a CP949
// decode is treated as garbage.
const maxReplacementRatio = 0.1

// Decode turns raw upload bytes into NFC-normalized text with LF line endings.
func Decode(b []byte, enc Encoding) (string, error) {
	text, _, err := DecodeDetect(b, enc)
	return text, err
}

// DecodeDetect is Decode that also reports the encoding actually used.
// Auto detection picks UTF-8 when the bytes are valid UTF-8, else CP949.
func DecodeDetect(b []byte, enc Encoding) (string, Encoding, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if len(bytes.TrimSpace(b)) == 0 {
		return "", "", ErrNoInput
	}
	if looksBinary(b) {
		return "", "", fmt.Errorf("binary content: %w", ErrUndecodable)
	}

	if enc == "" || enc == EncodingAuto {
		enc = EncodingCP949
		if utf8.Valid(b) {
			enc = EncodingUTF8
		}
	}

	var text string
	switch enc {
	case EncodingUTF8:
		if !utf8.Valid(b) {
			return "", enc, fmt.Errorf("invalid UTF-8: %w", ErrUndecodable)
		}
		text = string(b)
	case EncodingCP949:
		out, err := korean.EUCKR.NewDecoder().Bytes(b)
		if err != nil {
			return "", enc, fmt.Errorf("decoding cp949: %v: %w", err, ErrUndecodable)
		}
		text = string(out)
		if replacementRatio(text) > maxReplacementRatio {
			return "", enc, fmt.Errorf("not cp949 text: %w", ErrUndecodable)
		}
	default:
		return "", enc, fmt.Errorf("unsupported encoding %q: %w", enc, ErrUndecodable)
	}

	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return "", enc, ErrNoInput
	}
	return text, enc, nil
}

// looksBinary reports a NUL byte in the first 8000 bytes, the same heuristic git uses.
func looksBinary(b []byte) bool {
	if len(b) > 8000 {
		b = b[:8000]
	}
	return bytes.IndexByte(b, 0) >= 0
}

func replacementRatio(s string) float64 {
	total, bad := 0, 0
	for _, r := range s {
		total++
		if r == utf8.RuneError {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}
