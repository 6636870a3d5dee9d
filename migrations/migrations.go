// Package migrations embeds the goose SQL migrations applied by the API
// server at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
