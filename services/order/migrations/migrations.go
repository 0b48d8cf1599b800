// Package migrations embeds the order schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
