package config

import "fmt"

// StorageClient configures a single connection the storage client
// maintains to an authorized storage server.
type StorageClient struct {
	// FURL identifies the remote storage server this connection targets.
	// It is used only for error reporting (IncorrectStorageServerReference);
	// the actual transport is supplied by the binary wiring this config in.
	FURL string `yaml:"FURL"`
}

// Validate returns an error if the StorageClient configuration is not
// valid.
func (c StorageClient) Validate() error {
	if c.FURL == "" {
		return fmt.Errorf("invalid StorageClient.FURL: must not be empty")
	}
	return nil
}
