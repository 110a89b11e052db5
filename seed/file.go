package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk format of additional seed accounts:
//
//	users:
//	  - username: support
//	    email: support@example.com
//	    role: member
//	    generate_password: true
type File struct {
	Users []Spec `yaml:"users"`
}

// LoadSpecs reads seed specs from a YAML file
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, s := range f.Users {
		if s.Username == "" {
			return nil, fmt.Errorf("seed file %s: entry %d has no username", path, i)
		}
	}
	return f.Users, nil
}
