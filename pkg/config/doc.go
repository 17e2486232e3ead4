// Package config defines pool and backend configuration for the connection
// manager and loads it from disk.
//
// A configuration document names one backend per connection type:
//
//	logging:
//	  level: info
//	backends:
//	  primary-db:
//	    kind: postgres
//	    dsn: postgres://app:${PG_PASSWORD}@db:5432/app
//	    pool:
//	      min_size: 2
//	      max_size: 10
//	      connection_timeout: 5s
//	      idle_timeout: 5m
//	      health_check_interval: 30s
//	      circuit_failure_threshold: 5
//	      circuit_recovery_timeout: 30s
//
// ${VAR} references are expanded before parsing and CONNMGR_* environment
// variables override keys (CONNMGR_LOGGING_LEVEL=debug). Pool fields left
// unset take the values of DefaultPoolConfig; explicit invalid values are
// rejected with a config error.
package config
