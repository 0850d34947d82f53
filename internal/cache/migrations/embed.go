// Package migrations embeds the SQL migration files for the projection cache.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
