package cmn

import "regexp"

// Config holds every flag from spec.md §6 after parsing, built once at
// startup and passed into the engine constructors by pointer - there is
// no global config-owner singleton (§9: "no hidden globals").
type Config struct {
	Listen bool // -l: server mode

	Port int    // -P
	Dir  string // -d: shared root (server) / working directory (client)

	Include *regexp.Regexp // -r: server include regex

	StdoutEcho bool // -s: client, also write received bytes to stdout
	Gzip       bool // -z: server, compress block payloads
	Checksums  bool // -c: server, compute and advertise SHA-1

	PidFile    string // -p
	Foreground bool   // -f
	Verbosity  int    // -v N: integer level, not counted by repetition

	// Sources is the client-only, post-brace-expansion list of source
	// hostnames to connect to.
	Sources []string
}

const DefaultPort = 4096
const DefaultPidFile = "/var/run/rstream.pid"
