// Command fluxd serves the flux job and stream API over HTTP.
//
// Configuration comes from the environment (see package config), optionally
// layered with a YAML or TOML file:
//
//	fluxd -config /etc/flux.yaml -port 9000
//
// SIGINT and SIGTERM shut the server down gracefully. Detached jobs keep
// running and can be picked up again by the next instance.
package main
