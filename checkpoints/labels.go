package checkpoints

import (
	"encoding/gob"
	"fmt"
	"os"
)

// SaveLabels writes a label collection (predictions, ground truth) to path with gob.
// The concrete type is preserved, so LoadLabels must be given a pointer to the same type.
func SaveLabels(path string, labels interface{}) error {
	if labels == nil {
		return fmt.Errorf("failed to encode labels for %s: nil collection", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create label file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(labels); err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	return file.Close()
}

// LoadLabels decodes a label file written by SaveLabels into out
func LoadLabels(path string, out interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open label file: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(out); err != nil {
		return fmt.Errorf("failed to decode labels: %w", err)
	}

	return nil
}

// WriteText writes a text blob such as a model's config.json
func WriteText(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
