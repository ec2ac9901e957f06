package ofxparser

import (
	"bufio"
	"bytes"
	"strings"
)

// tagValue is one SGML element and its inline text value.
type tagValue struct {
	tag   string
	value string
}

// extractSGML scans an OFX 1.x document for STMTTRN records. SGML framing
// permits unclosed value elements (<TRNAMT>-12.50 with no closing tag), so a
// real XML parser cannot be used; the scanner walks tag/value pairs line by
// line and only relies on the <STMTTRN>...</STMTTRN> aggregate boundaries.
func extractSGML(data []byte) []stmtTrn {
	var (
		records []stmtTrn
		current *stmtTrn
		lineNo  int
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		// Multiple elements may share a line in compact exports.
		for _, tv := range splitTags(scanner.Text()) {
			switch tv.tag {
			case "STMTTRN":
				rec := stmtTrn{line: lineNo}
				current = &rec
			case "/STMTTRN":
				if current != nil {
					records = append(records, *current)
					current = nil
				}
			default:
				if current == nil {
					continue
				}
				switch tv.tag {
				case "TRNTYPE":
					current.trnType = tv.value
				case "DTPOSTED":
					current.dtPosted = tv.value
				case "TRNAMT":
					current.trnAmt = tv.value
				case "FITID":
					current.fitID = tv.value
				case "NAME":
					current.name = tv.value
				case "MEMO":
					current.memo = tv.value
				}
			}
		}
	}

	// An unclosed trailing record is still a record; banks truncate.
	if current != nil {
		records = append(records, *current)
	}
	return records
}

// splitTags extracts (tag, value) pairs from one SGML line. The value is the
// text between the tag and the next '<' or end of line; closing tags keep
// their leading slash and carry an empty value.
func splitTags(line string) []tagValue {
	var pairs []tagValue
	rest := line
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			return pairs
		}
		rest = rest[open+1:]
		closeIdx := strings.IndexByte(rest, '>')
		if closeIdx < 0 {
			return pairs
		}
		tag := strings.ToUpper(strings.TrimSpace(rest[:closeIdx]))
		rest = rest[closeIdx+1:]

		value := rest
		if next := strings.IndexByte(rest, '<'); next >= 0 {
			value = rest[:next]
		}
		pairs = append(pairs, tagValue{tag: tag, value: strings.TrimSpace(value)})
	}
}
