// Package config loads runtime settings from YAML.
//
//	engine:
//	  memory_limit_pages: 256
//	  cache_dir: /var/cache/wasm
//	wasi:
//	  inherit_stdio: true
//	  env: {HOME: /}
//	log:
//	  level: debug
//	metrics:
//	  listen: :9090
//	world: guest.wit
package config
