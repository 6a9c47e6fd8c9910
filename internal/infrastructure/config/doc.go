// Package config handles loading and validating nsmd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with NSMD_ environment variables
//   - Validation of required fields and the static endpoint table
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/nsmd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.EID, d.UUID)
//	}
package config
