// Package migrations embeds the payment schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
