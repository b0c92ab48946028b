package postgres

import (
	"encoding/json"

	"github.com/quietloop/memoria"
)

func marshalMetadata(m memoria.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte, out *memoria.Metadata) error {
	return json.Unmarshal(data, out)
}
