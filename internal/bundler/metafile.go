package bundler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type metafile struct {
	Inputs  map[string]metafileInput  `json:"inputs"`
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileInput struct {
	Bytes   int      `json:"bytes"`
	Imports []Import `json:"imports"`
	Format  string   `json:"format,omitempty"`
}

type metafileOutput struct {
	Bytes      int           `json:"bytes"`
	Inputs     orderedInputs `json:"inputs"`
	Imports    []Import      `json:"imports"`
	Exports    []string      `json:"exports"`
	EntryPoint string        `json:"entryPoint,omitempty"`
}

// orderedInputs keeps the key order of an output's "inputs" object, which
// is the order modules appear in the chunk.
type orderedInputs []string

func (o *orderedInputs) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object for output inputs, got %v", token)
	}
	keys := make([]string, 0)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := token.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", token)
		}
		var skip json.RawMessage
		if err := decoder.Decode(&skip); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	*o = keys
	return nil
}

func parseMetafile(raw string) (metafile, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return metafile{}, fmt.Errorf("parse metafile: %w", err)
	}
	return meta, nil
}
