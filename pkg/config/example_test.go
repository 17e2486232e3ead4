package config_test

import (
	"fmt"

	"github.com/ajitpratap0/connmgr/pkg/config"
)

// ExampleDefaultPoolConfig shows the defaults a backend gets when its pool
// section is omitted.
func ExampleDefaultPoolConfig() {
	cfg := config.DefaultPoolConfig()

	fmt.Printf("min=%d max=%d\n", cfg.MinSize, cfg.MaxSize)
	fmt.Printf("connection timeout: %s\n", cfg.ConnectionTimeout)
	fmt.Printf("recovery timeout: %s\n", cfg.CircuitRecoveryTimeout)

	// Output:
	// min=1 max=10
	// connection timeout: 10s
	// recovery timeout: 30s
}

// ExamplePoolConfig_Validate shows a configuration rejected at construction.
func ExamplePoolConfig_Validate() {
	cfg := config.DefaultPoolConfig()
	cfg.MinSize = 4
	cfg.MaxSize = 2

	fmt.Println(cfg.Validate())

	// Output:
	// config: max_size (2) must be >= min_size (4)
}
