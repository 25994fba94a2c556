package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaveTranscript writes JSON for ".json" files and YAML otherwise. The file
// is replaced atomically.
func SaveTranscript(path string, transcript *Transcript) error {
	data, err := Marshal(path, transcript)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(0640); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var transcript Transcript
	if isJSON(path) {
		err = json.Unmarshal(data, &transcript)
	} else {
		err = yaml.Unmarshal(data, &transcript)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &transcript, nil
}

// Marshal encodes a transcript in the format implied by path.
func Marshal(path string, transcript *Transcript) ([]byte, error) {
	if isJSON(path) {
		data, err := json.MarshalIndent(transcript, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return yaml.Marshal(transcript)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
