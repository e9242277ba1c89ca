// Package migrations embeds the SQL schema so the migrate tool and
// integration tests do not depend on the working directory.
package migrations

import "embed"

// FS holds every *.sql migration, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
