package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// GoJSON is backed by github.com/goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// Standard is backed by encoding/json. Tests use it as the reference
// encoding.
type Standard struct{}

func (Standard) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Standard) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Standard) Name() string                       { return "json" }
