package modules

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// DecodeData decodes the body of a data module.
func DecodeData(format Format, body []byte) (any, error) {
	var (
		out any
		err error
	)
	switch format {
	case FormatJSON:
		err = sonic.Unmarshal(body, &out)
	case FormatYAML:
		err = yaml.Unmarshal(body, &out)
	case FormatTOML:
		var table map[string]any
		err = toml.Unmarshal(body, &table)
		out = table
	default:
		return nil, fmt.Errorf("%w: %q is not a data format", ErrFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrFormat, format, err)
	}
	return out, nil
}
