package estimate

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts raw text file bytes to UTF-8. Valid UTF-8 is returned
// as is (minus a BOM); anything else goes through charset detection, which
// covers the Shift_JIS and EUC-JP files common for Japanese sources. The
// second result is the lowercase charset name.
func DecodeText(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}

	res, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && res != nil {
		charset := strings.ToLower(res.Charset)
		if enc, err := htmlindex.Get(charset); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				return string(out), charset
			}
		}
	}
	return strings.ToValidUTF8(string(data), "�"), "unknown"
}
