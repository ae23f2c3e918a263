package fetcher

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns b as UTF-8. Bytes that are not valid UTF-8 are read as
// Windows-1252, which is what spreadsheet exports from most councils are.
func DecodeText(b []byte) (string, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return string(b), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: decode windows-1252")
	}
	return string(out), nil
}

// CharsetReader resolves an XML or HTML charset label to a UTF-8 reader.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
