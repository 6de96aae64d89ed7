// Package config provides configuration management for the router worker.
//
// Configuration is loaded from environment variables and validated on startup.
// All configuration options have defaults suitable for development.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg)
//
// ROUTER_CONTEXT holds comma separated key:value pairs exposed to rule
// expressions as the "config" variable, e.g. ROUTER_CONTEXT=env:prod,region:eu.
package config
