// Package migrations embeds the SQL schema migrations for the app-owned
// groupwatch.db, applied via golang-migrate at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
