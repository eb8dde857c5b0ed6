// Package conventions embeds the convention scripts shipped with pinpoint.
package conventions

import "embed"

// FS holds the built-in convention scripts.
//
//go:embed *.risor
var FS embed.FS

// Builtin lists the scripts in FS applied by default.
var Builtin = []string{"rails.risor"}
