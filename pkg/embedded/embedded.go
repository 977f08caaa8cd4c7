// Package embedded provides static assets compiled into the binary.
package embedded

import _ "embed"

// ConsoleHTML is the live worker console: it lists the caller's workers and
// attaches to their log streams over websockets.
//
//go:embed console.html
var ConsoleHTML []byte
