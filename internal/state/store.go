package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrPersistence indicates the underlying state file could not be written.
// It is fatal to the calling operation and never retried here.
var ErrPersistence = errors.New("state persistence failure")

// readRecord loads a JSON record from path into v. A missing or malformed
// file is treated as absent: v is left at its zero value and no error is
// returned, so a corrupt state file never blocks routing.
func readRecord(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", ErrPersistence, path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt contents fall back to the default value.
		return nil
	}

	return nil
}

// writeRecord persists v to path as indented JSON.
func writeRecord(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrPersistence, path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistence, path, err)
	}

	return nil
}
