// Package migrations embeds the goose SQL migration files so binaries can
// apply them at startup without shipping the directory separately.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
