package leadimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

var ErrMissingColumn = errors.New("lead file is missing a required column")

// Record is one row of a lead file.
type Record struct {
	Name  string
	Phone string
}

var (
	nameHeaders  = []string{"name", "nome", "full_name", "fullname"}
	phoneHeaders = []string{"phone", "telefone", "whatsapp", "celular", "number"}
)

// Parse reads a CSV lead file with a header row. Separators "," and ";" are
// both accepted. Phones are reduced to digits; rows without a phone and
// repeated phones are dropped.
func Parse(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read lead file: %w", err)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectSeparator(text)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	nameCol := findColumn(header, nameHeaders)
	phoneCol := findColumn(header, phoneHeaders)
	if phoneCol < 0 {
		return nil, fmt.Errorf("%w: phone", ErrMissingColumn)
	}

	seen := make(map[string]bool)
	var out []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if phoneCol >= len(row) {
			continue
		}
		phone := digits(row[phoneCol])
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		rec := Record{Phone: phone}
		if nameCol >= 0 && nameCol < len(row) {
			rec.Name = strings.TrimSpace(row[nameCol])
		}
		out = append(out, rec)
	}
	return out, nil
}

func detectSeparator(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
