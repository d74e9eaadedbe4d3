// Package config loads the tradeetl configuration.
//
// Values are layered in increasing order of precedence:
//
//	1. Default() values
//	2. A YAML file (-config flag, ./tradeetl.yaml or ./configs/tradeetl.yaml)
//	3. Environment variables prefixed with TRADEETL_, e.g.
//	   TRADEETL_STORE_URI=mongodb://db:27017
//	   TRADEETL_SITE_FILES_TYPE=export
//	   TRADEETL_BROWSER_HEADLESS=false
//	4. Command line flags, applied by cmd/tradeetl
//
// Validate must be called once all layers are applied.
package config
