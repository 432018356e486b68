// Package commands defines the aguardia CLI.
//
// Commands
//
//   - serve   Run the relay server (default when no subcommand is given)
//   - keygen  Print fresh server seeds and the public keys they derive
//
// The persistent --config flag names a TOML file; without it etc/config.toml
// is read when present. AG_* environment variables override both.
package commands
