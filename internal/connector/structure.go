package connector

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrEmptyDocument is returned for empty or whitespace-only payloads.
var ErrEmptyDocument = errors.New("empty feed document")

// jsonWrapperKeys are tried in order when a JSON feed wraps its record
// array inside an envelope object.
var jsonWrapperKeys = []string{"products", "items", "data", "results", "offers"}

// xmlItemNames are tried in order when locating the repeated record
// element in an XML feed.
var xmlItemNames = []string{"product", "item", "record", "offer", "entry", "row", "SHOPITEM"}

// ParseDocument detects the payload structure from its leading bytes and
// extracts raw records. A structural failure here is a PARSE_ERROR for the
// whole run; per-row problems land in Malformed instead.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}

	switch {
	case trimmed[0] == '<':
		return parseXML(trimmed)
	case trimmed[0] == '[' || trimmed[0] == '{':
		return parseJSON(trimmed)
	default:
		return parseDelimited(trimmed)
	}
}

func parseJSON(data []byte) (*Document, error) {
	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	var arr []interface{}
	switch v := root.(type) {
	case []interface{}:
		arr = v
	case map[string]interface{}:
		for _, key := range jsonWrapperKeys {
			if inner, ok := v[key].([]interface{}); ok {
				arr = inner
				break
			}
		}
		if arr == nil {
			// A single bare object is treated as a one-record feed.
			arr = []interface{}{root}
		}
	default:
		return nil, fmt.Errorf("json root is %T, expected array or object", root)
	}

	doc := &Document{Structure: "json"}
	for i, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			doc.Malformed = append(doc.Malformed, MalformedRow{
				Line:   i,
				Reason: fmt.Sprintf("array entry %d is %T, not an object", i, item),
			})
			continue
		}
		doc.Rows = append(doc.Rows, RawRecord(m))
	}
	return doc, nil
}

func parseDelimited(data []byte) (*Document, error) {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}

	// Pick the delimiter that appears most on the header line. Tab wins
	// ties so TSV exports with commas inside titles detect correctly.
	structure := "csv"
	delim := ','
	commas := bytes.Count(firstLine, []byte{','})
	semis := bytes.Count(firstLine, []byte{';'})
	tabs := bytes.Count(firstLine, []byte{'\t'})
	switch {
	case tabs > 0 && tabs >= commas && tabs >= semis:
		delim = '\t'
		structure = "tsv"
	case semis > commas:
		delim = ';'
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	doc := &Document{Structure: structure}
	line := 1
	for {
		line++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			doc.Malformed = append(doc.Malformed, MalformedRow{Line: line, Reason: err.Error()})
			continue
		}
		if isBlankRow(row) {
			continue
		}
		// Ragged rows are mapped as far as the header reaches: short rows
		// leave the trailing fields absent, extra cells are dropped.
		// Classification decides the lane from what is present.
		width := len(row)
		if width > len(header) {
			width = len(header)
		}
		rec := make(RawRecord, width)
		for i := 0; i < width; i++ {
			rec[header[i]] = row[i]
		}
		doc.Rows = append(doc.Rows, rec)
	}
	return doc, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// xmlTagPattern captures flat <tag>value</tag> pairs inside one item,
// tolerating attributes and CDATA wrappers.
var xmlTagPattern = regexp.MustCompile(`(?s)<([A-Za-z_][A-Za-z0-9_-]*)(?:\s[^>]*)?>(?:<!\[CDATA\[)?(.*?)(?:\]\]>)?</([A-Za-z_][A-Za-z0-9_-]*)>`)

func parseXML(data []byte) (*Document, error) {
	itemName, matches := findXMLItems(data)
	if itemName == "" {
		return nil, fmt.Errorf("no repeated record element found in xml")
	}

	doc := &Document{Structure: "xml"}
	for i, match := range matches {
		rec := parseXMLItem(match)
		if len(rec) == 0 {
			doc.Malformed = append(doc.Malformed, MalformedRow{
				Line:   i,
				Reason: fmt.Sprintf("<%s> element %d has no fields", itemName, i),
			})
			continue
		}
		doc.Rows = append(doc.Rows, rec)
	}
	return doc, nil
}

// findXMLItems locates the repeated record element, trying the known item
// names case-insensitively and keeping the first that matches.
func findXMLItems(data []byte) (string, [][]byte) {
	for _, name := range xmlItemNames {
		pattern := fmt.Sprintf(`(?si)<%s(?:\s[^>]*)?>(.*?)</%s>`, regexp.QuoteMeta(name), regexp.QuoteMeta(name))
		re := regexp.MustCompile(pattern)
		found := re.FindAllSubmatch(data, -1)
		if len(found) == 0 {
			continue
		}
		inner := make([][]byte, 0, len(found))
		for _, m := range found {
			inner = append(inner, m[1])
		}
		return name, inner
	}
	return "", nil
}

func parseXMLItem(data []byte) RawRecord {
	rec := make(RawRecord)
	for _, match := range xmlTagPattern.FindAllSubmatch(data, -1) {
		openTag, closeTag := string(match[1]), string(match[3])
		if openTag != closeTag {
			continue
		}
		value := strings.TrimSpace(string(match[2]))
		if value == "" || strings.ContainsRune(value, '<') {
			// Container elements carry their children's markup; the inner
			// pairs are captured on their own.
			continue
		}
		rec[openTag] = value
	}
	return rec
}
