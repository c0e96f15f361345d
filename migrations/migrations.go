// Package migrations embeds the SQL migrations applied at startup.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
