// Package codec encodes manifests, delta lines and accumulator rows.
//
// Entities implement their own JSON methods, so every codec here writes the
// same canonical bytes for an entity; the codecs differ only in speed.
package codec

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used when a component is not given one.
var Default Codec = GoJSON{}

// AppendLine appends the encoding of v and a newline to dst. On error dst is
// returned unchanged.
func AppendLine(c Codec, dst []byte, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		return dst, err
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}
