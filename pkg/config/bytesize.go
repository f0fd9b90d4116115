package config

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that reads "100MiB", "20 GB" or a plain count.
type ByteSize int64

// ParseByteSize parses a human-readable size. Both SI (kB, MB) and IEC
// (KiB, MiB) units are accepted; a bare number is a count of bytes.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte size %q is too large", s)
	}
	return ByteSize(n), nil
}

// String renders the size with IEC units, e.g. "100 MiB".
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes the size in human-readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// UnmarshalYAML accepts both integers and human-readable strings.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// JSONSchema describes ByteSize as either a byte count or a size string.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer", Minimum: "0"},
			{Type: "string", Pattern: `^\s*[0-9.]+\s*[A-Za-z]*\s*$`},
		},
		Description: `Size in bytes, or a human-readable size such as "100MiB"`,
	}
}

var byteSizeType = reflect.TypeOf(ByteSize(0))

// byteSizeHook decodes strings into ByteSize. Numbers are converted by
// mapstructure directly.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != byteSizeType || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}
