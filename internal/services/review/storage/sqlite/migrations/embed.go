// Package migrations embeds the review store schema.
package migrations

import "embed"

// FS contains SQL migration files for the review store.
//
//go:embed *.sql
var FS embed.FS
