package config

import "fmt"

// Store configures the durable voucher store.
type Store struct {
	// Path is the filesystem path to the SQLite database file.
	Path string `yaml:"Path"`
}

// Validate returns an error if the Store configuration is not valid.
func (s Store) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("invalid Store.Path: must not be empty")
	}
	return nil
}
