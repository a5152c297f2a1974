// Package migrations holds the embedded goose migrations applied at
// bootstrap.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
