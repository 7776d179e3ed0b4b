// Package parsers implements the local structured-format decoders tried
// before (or instead of) delegating to an upstream model. Each parser
// reports (value, ok); a false ok carries no diagnostics because cascade
// failures are swallowed and the next format is tried.
package parsers

import (
	"encoding/csv"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// maxCSVRows bounds decoded data rows to keep memory flat on huge uploads.
const maxCSVRows = 999

// JSON decodes strict JSON. It only engages when the first non-space byte
// is '{' or '[' so that bare scalars and prose fall through the cascade.
func JSON(input string) (any, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, false
	}

	return value, true
}

// Query decodes application/x-www-form-urlencoded input. Dots in keys are
// normalized to underscores before key sanitation; this is documented behavior,
// not a defect ("a.b=1" and "a_b=1" produce the same key).
func Query(input string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, "=") {
		return nil, false
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil || len(values) == 0 {
		return nil, false
	}

	result := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		key = SanitizeKey(strings.ReplaceAll(key, ".", "_"))
		if len(vals) == 1 {
			result[key] = vals[0]
			continue
		}
		many := make([]any, len(vals))
		for i, v := range vals {
			many[i] = v
		}
		result[key] = many
	}

	if len(result) == 0 {
		return nil, false
	}

	return result, true
}

// KVLines decodes one key/value pair per line. Blank lines and lines opening
// with '#' or '//' are comments. The separator is the first '=' if present,
// otherwise the first ':'. At least one pair must decode.
func KVLines(input string) (map[string]any, bool) {
	lines := strings.FieldsFunc(input, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	result := make(map[string]any)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		sep := strings.Index(line, "=")
		if sep < 0 {
			sep = strings.Index(line, ":")
		}
		if sep < 0 {
			continue
		}

		key := SanitizeKey(strings.TrimSpace(line[:sep]))
		value := strings.TrimSpace(line[sep+1:])
		result[key] = value
	}

	if len(result) == 0 {
		return nil, false
	}

	return result, true
}

// CSV decodes comma-separated input with the first non-empty line as the
// header. Each row keeps its first min(header len, row len) columns: long
// rows are truncated and short rows are not padded. At most maxCSVRows data
// rows are decoded.
func CSV(input string) ([]map[string]any, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, ",") || !strings.ContainsAny(trimmed, "\r\n") {
		return nil, false
	}

	reader := csv.NewReader(strings.NewReader(trimmed))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) < 2 {
		return nil, false
	}

	var header []string
	var dataStart int
	for i, record := range records {
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		header = record
		dataStart = i + 1
		break
	}
	if len(header) == 0 || dataStart >= len(records) {
		return nil, false
	}

	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = SanitizeKey(strings.TrimSpace(h))
	}

	rows := make([]map[string]any, 0, len(records)-dataStart)
	for _, record := range records[dataStart:] {
		if len(rows) >= maxCSVRows {
			break
		}

		width := len(keys)
		if len(record) < width {
			width = len(record)
		}

		row := make(map[string]any, width)
		for i := 0; i < width; i++ {
			row[keys[i]] = record[i]
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, false
	}

	return rows, true
}

var (
	invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// SanitizeKey maps an arbitrary field name onto [A-Za-z0-9_.-]: anything
// else becomes '_', runs collapse, and edge underscores are stripped. An
// empty result substitutes "key".
func SanitizeKey(key string) string {
	key = invalidKeyChars.ReplaceAllString(key, "_")
	key = underscoreRuns.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return "key"
	}
	return key
}
