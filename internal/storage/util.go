package storage

import (
	"encoding/json"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// encodeWarnings serializes warnings for a TEXT/JSONB column
func encodeWarnings(warnings []string) (string, error) {
	if len(warnings) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeWarnings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var warnings []string
	if err := json.Unmarshal(data, &warnings); err != nil {
		return nil, err
	}
	if len(warnings) == 0 {
		return nil, nil
	}
	return warnings, nil
}
