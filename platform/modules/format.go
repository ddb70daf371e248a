// Package modules resolves and fetches the modules a snippet loads, and
// decodes data modules into plain Go values.
package modules

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format is the kind of a module, deciding how it is instantiated.
type Format string

const (
	FormatJS       Format = "js"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatTOML     Format = "toml"
	FormatStarlark Format = "starlark"
	FormatRisor    Format = "risor"
	FormatWasm     Format = "wasm"
	FormatHost     Format = "host"
	FormatUnknown  Format = ""
)

var extensions = map[string]Format{
	".js":    FormatJS,
	".cjs":   FormatJS,
	".mjs":   FormatJS,
	".json":  FormatJSON,
	".yaml":  FormatYAML,
	".yml":   FormatYAML,
	".toml":  FormatTOML,
	".star":  FormatStarlark,
	".risor": FormatRisor,
	".rsr":   FormatRisor,
	".wasm":  FormatWasm,
}

// IsData reports whether the format decodes into a value instead of running code.
func (f Format) IsData() bool {
	return f == FormatJSON || f == FormatYAML || f == FormatTOML
}

// FormatFromPath returns the format for a file name's extension.
func FormatFromPath(name string) Format {
	return extensions[strings.ToLower(path.Ext(name))]
}

// Sniff detects the format of a body whose name has no known extension.
// Unrecognized text is treated as JavaScript.
func Sniff(body []byte) Format {
	mt := mimetype.Detect(body)
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/wasm"):
			return FormatWasm
		case m.Is("application/json"):
			return FormatJSON
		case m.Is("text/javascript"), m.Is("application/javascript"):
			return FormatJS
		case m.Is("application/toml"):
			return FormatTOML
		case m.Is("application/yaml"), m.Is("text/yaml"):
			return FormatYAML
		}
	}
	if mt.Is("application/octet-stream") {
		return FormatUnknown
	}
	return FormatJS
}
