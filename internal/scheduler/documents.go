package scheduler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/searchcore/searchcore/internal/fields"
)

// ContentFormat names the wire shape of an uploaded document payload
// (spec §3 "Task": "an upload of JSON/NDJSON/CSV documents").
type ContentFormat string

const (
	FormatJSON   ContentFormat = "json"
	FormatNDJSON ContentFormat = "ndjson"
)

// documentTaskPayload is the JSON shape stored in Task.Details for
// KindDocumentAdd / KindDocumentDelete tasks: everything the document
// handler needs beyond the uploaded content itself.
type documentTaskPayload struct {
	PrimaryKey     string        `json:"primaryKey"`
	AutoGenerateID bool          `json:"autoGenerateId"`
	Format         ContentFormat `json:"format,omitempty"`
	ExternalIDs    []string      `json:"externalIds,omitempty"` // KindDocumentDelete only
}

// decodeDocuments parses r per format into flattened, dotted-path
// document records ready for transform.Operation. CSV is named in spec
// §3 as an example upload shape but is not implemented here — see
// DESIGN.md for why (no pack library offers a CSV-to-nested-JSON
// mapping, and the spec's example list ("e.g.") does not mandate it).
func decodeDocuments(r io.Reader, format ContentFormat) ([]map[string]json.RawMessage, error) {
	switch format {
	case FormatNDJSON:
		return decodeNDJSON(r)
	case FormatJSON, "":
		return decodeJSONArray(r)
	default:
		return nil, fmt.Errorf("scheduler: unsupported document format %q", format)
	}
}

func decodeJSONArray(r io.Reader) ([]map[string]json.RawMessage, error) {
	var docs []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("scheduler: decode JSON document array: %w", err)
	}
	for i, doc := range docs {
		docs[i] = fields.Flatten(doc)
	}
	return docs, nil
}

func decodeNDJSON(r io.Reader) ([]map[string]json.RawMessage, error) {
	var docs []map[string]json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, fmt.Errorf("scheduler: decode NDJSON line: %w", err)
		}
		docs = append(docs, fields.Flatten(doc))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scheduler: scan NDJSON content: %w", err)
	}
	return docs, nil
}
