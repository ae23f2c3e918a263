package fetcher

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a parsed file: the header row and the data rows beneath it.
type Table struct {
	Header []string
	Rows   [][]string
}

// Sample returns up to n data rows.
func (t Table) Sample(n int) [][]string {
	return t.Rows[:min(n, len(t.Rows))]
}

// ParseCSV parses CSV text, sniffing the delimiter from the header line.
// Leading blank or title-only lines before the header are skipped. Rows that
// fail to parse are dropped; the whole file fails only when more than half
// of the rows are malformed.
func ParseCSV(text string) (Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	var (
		records [][]string
		bad     int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				bad++
				continue
			}
			return Table{}, eris.Wrap(err, "fetcher: read csv")
		}
		records = append(records, trimRecord(rec))
	}
	if len(records) > 0 && bad*2 > len(records) {
		return Table{}, eris.Errorf("fetcher: %d of %d csv rows malformed", bad, len(records)+bad)
	}
	return tableFrom(records), nil
}

// sniffDelimiter picks the most frequent of comma, semicolon, tab and pipe
// over the first lines, so a title line above the header does not decide.
func sniffDelimiter(text string) rune {
	head := strings.SplitN(text, "\n", 11)
	if len(head) > 10 {
		head = head[:10]
	}
	sample := strings.Join(head, "\n")
	best, bestN := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := strings.Count(sample, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func trimRecord(rec []string) []string {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return rec
}

// tableFrom takes the first row with at least two non-empty cells as the
// header and drops blank rows.
func tableFrom(records [][]string) Table {
	var t Table
	for _, rec := range records {
		if nonEmpty(rec) == 0 {
			continue
		}
		if t.Header == nil {
			if nonEmpty(rec) < 2 {
				continue
			}
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}

func nonEmpty(rec []string) int {
	n := 0
	for _, c := range rec {
		if c != "" {
			n++
		}
	}
	return n
}

var zipMagic = []byte("PK\x03\x04")

// ParseFile decodes a downloaded file into a Table. XLSX is recognized by
// extension, content type or the zip signature; everything else is read as
// CSV text.
func ParseFile(f *File) (Table, error) {
	ct := strings.ToLower(f.ContentType)
	switch {
	case bytes.HasPrefix(f.Body, zipMagic),
		strings.Contains(ct, "spreadsheetml"),
		f.Ext() == "xlsx":
		return ParseXLSX(f.Body)
	case f.Ext() == "xls", strings.Contains(ct, "ms-excel"):
		return Table{}, eris.Wrapf(ErrUnsupportedType, "fetcher: legacy xls %s", f.URL)
	}
	text, err := DecodeText(f.Body)
	if err != nil {
		return Table{}, err
	}
	return ParseCSV(text)
}
