package config

// BasicService is a simple base for the binary's optional network-facing
// services (currently, the Prometheus exporter).
type BasicService struct {
	Enabled bool `yaml:"Enabled"`
	// Addresses holds the list of bind addresses in the form of
	// "address:port".
	Addresses []string `yaml:"Addresses"`
}
