package source

import (
	"encoding/json"
	"fmt"
)

func marshalContent(content any) (json.RawMessage, error) {
	if content == nil {
		return nil, nil
	}
	if raw, ok := content.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal event content: %w", err)
	}
	return raw, nil
}
