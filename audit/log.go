package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeLog renders entries as JSON Lines, one entry (with its chain hash)
// per line, in chain order. This is the persisted log artifact.
func EncodeLog(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeLog reads a log artifact back. Numbers are kept as json.Number so
// re-canonicalizing reproduces the original bytes.
func DecodeLog(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []Entry
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode log line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return out, nil
}
