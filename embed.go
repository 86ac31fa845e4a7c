// Package breathengine holds assets embedded into the compiled binary.
package breathengine

import _ "embed"

//go:embed schema.sql
var SchemaSQL []byte
