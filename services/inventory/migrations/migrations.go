// Package migrations embeds the inventory schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
