package config

import "fmt"

// StorageServer configures the admission layer's durable double-spend
// record.
type StorageServer struct {
	// SpentPassesDBPath is the filesystem path to the bbolt database
	// recording spent-pass fingerprints.
	SpentPassesDBPath string `yaml:"SpentPassesDBPath"`
	// SpentPassesCacheSize bounds the in-memory LRU front cache over the
	// durable spent-pass set.
	SpentPassesCacheSize int `yaml:"SpentPassesCacheSize"`
	// SigningSecretPath is where the HMAC reference oracle's key is
	// persisted across restarts.
	SigningSecretPath string `yaml:"SigningSecretPath"`
	// SharesDBPath is the filesystem path to the reference local object
	// store's bbolt database.
	SharesDBPath string `yaml:"SharesDBPath"`
}

// Validate returns an error if the StorageServer configuration is not
// valid.
func (s StorageServer) Validate() error {
	if s.SpentPassesDBPath == "" {
		return fmt.Errorf("invalid StorageServer.SpentPassesDBPath: must not be empty")
	}
	if s.SpentPassesCacheSize < 1 {
		return fmt.Errorf("invalid StorageServer.SpentPassesCacheSize: %d, must be >= 1", s.SpentPassesCacheSize)
	}
	return nil
}
