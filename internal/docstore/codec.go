package docstore

import (
	"bytes"
	"fmt"

	"github.com/playerdb/playerdb/internal/records"
	"gopkg.in/yaml.v3"
)

// encodeDoc serializes a record to its on-disk YAML form.
func encodeDoc(doc records.Doc) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", doc.Kind(), err)
	}
	return data, nil
}

// decodeDoc deserializes a record, starting from the kind's defaults so
// fields absent from older files keep their default values. Unknown fields
// are rejected.
func decodeDoc(kind records.Kind, data []byte) (records.Doc, error) {
	doc, err := records.New(kind)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", kind, err)
	}
	return doc, nil
}
