package config

// ServiceConfig is the lifecycle every config section goes through after the
// YAML files are loaded.
type ServiceConfig interface {
	// ApplyDefaults fills zero values.
	ApplyDefaults()

	ApplyEnvOverrides()

	// ResolvePaths makes relative file paths relative to configDir.
	ResolvePaths(configDir string)

	Validate() error
}

// ApplyServiceConfigs runs ApplyDefaults, ApplyEnvOverrides, ResolvePaths and
// Validate on each config in order and stops at the first validation error.
func ApplyServiceConfigs(configDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
