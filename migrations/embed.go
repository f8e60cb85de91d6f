// Package migrations embeds the Postgres schema so it ships inside the binary.
package migrations

import "embed"

// FS is the embedded migrations filesystem, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
