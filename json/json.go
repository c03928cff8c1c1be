package json

import (
	"io"
	"reflect"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage is a raw encoded JSON value.
type RawMessage = jsoniter.RawMessage

type Encoder struct {
	*jsoniter.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		Encoder: json.NewEncoder(w),
	}
}

// Encode applies `default` struct tags before encoding.
func (e *Encoder) Encode(v any) error {
	if err := setDefaults(v); err != nil {
		return err
	}
	return e.Encoder.Encode(v)
}

type Decoder struct {
	*jsoniter.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		Decoder: json.NewDecoder(r),
	}
}

// Decode applies `default` struct tags, then lets the input override them.
func (d *Decoder) Decode(v any) error {
	if err := setDefaults(v); err != nil {
		return err
	}
	return d.Decoder.Decode(v)
}

func Marshal(v any) ([]byte, error) {
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	if err := setDefaults(v); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Convert re-shapes src into dst by a JSON round trip. It is how loosely typed
// values (maps decoded off the wire) become concrete structs.
func Convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}

// setDefaults only touches pointers to structs; maps, slices and scalars pass
// through untouched.
func setDefaults(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	return defaults.Set(v)
}
