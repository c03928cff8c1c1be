package binding

import (
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// QueryUnmarshaler lets a type parse its own query parameter.
type QueryUnmarshaler interface {
	UnmarshalQuery(string) error
}

var queryUnmarshalerType = reflect.TypeOf((*QueryUnmarshaler)(nil)).Elem()

// ArrayStrategy selects how slice parameters are read.
type ArrayStrategy int

const (
	// ArrayStrategyMultiple reads ?event=a&event=b.
	ArrayStrategyMultiple ArrayStrategy = iota
	// ArrayStrategyComma reads ?event=a,b.
	ArrayStrategyComma
	// ArrayStrategyBoth accepts either form, splitting every value on commas.
	ArrayStrategyBoth
)

// QueryParser fills structs from url.Values. Fields are named by their query
// tag, then their json tag, then their lowercased Go name. A default tag
// supplies the value of an absent parameter.
type QueryParser struct {
	tagName       string
	defaultTag    string
	arrayStrategy ArrayStrategy
}

func NewQueryParser() *QueryParser {
	return &QueryParser{
		tagName:       "query",
		defaultTag:    "default",
		arrayStrategy: ArrayStrategyBoth,
	}
}

func (qp *QueryParser) SetArrayStrategy(strategy ArrayStrategy) {
	qp.arrayStrategy = strategy
}

// Parse fills v, which must be a non-nil pointer to a struct.
func (qp *QueryParser) Parse(values url.Values, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return &BindError{Type: "bind_error", Message: "v must be a non-nil pointer"}
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return &BindError{Type: "bind_error", Message: "v must be a pointer to struct"}
	}
	return qp.parseStruct(values, rv, "")
}

func (qp *QueryParser) parseStruct(values url.Values, rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		name := qp.queryName(fieldType, prefix)
		if name == "-" {
			continue
		}

		if field.Kind() == reflect.Struct && !field.Addr().Type().Implements(queryUnmarshalerType) {
			if err := qp.parseStruct(values, field, name+"."); err != nil {
				return err
			}
			continue
		}

		raw, ok := values[name]
		if !ok || len(raw) == 0 {
			def, hasDefault := fieldType.Tag.Lookup(qp.defaultTag)
			if !hasDefault {
				continue
			}
			raw = []string{def}
		}
		if err := qp.setField(field, raw, name); err != nil {
			return err
		}
	}
	return nil
}

func (qp *QueryParser) queryName(fieldType reflect.StructField, prefix string) string {
	for _, tag := range []string{qp.tagName, "json"} {
		if value := fieldType.Tag.Get(tag); value != "" {
			name := strings.Split(value, ",")[0]
			if name == "-" {
				return "-"
			}
			return prefix + name
		}
	}
	return prefix + strings.ToLower(fieldType.Name)
}

func (qp *QueryParser) setField(field reflect.Value, values []string, name string) error {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return qp.setField(field.Elem(), values, name)
	}

	if field.CanAddr() && field.Addr().Type().Implements(queryUnmarshalerType) {
		if err := field.Addr().Interface().(QueryUnmarshaler).UnmarshalQuery(values[0]); err != nil {
			return &BindError{Type: "bind_error", Field: name, Message: err.Error()}
		}
		return nil
	}

	if field.Kind() == reflect.Slice {
		return qp.setSlice(field, values, name)
	}
	return setScalar(field, values[0], name)
}

func (qp *QueryParser) setSlice(field reflect.Value, values []string, name string) error {
	var items []string
	switch qp.arrayStrategy {
	case ArrayStrategyMultiple:
		items = values
	case ArrayStrategyComma:
		items = strings.Split(values[0], ",")
	default:
		for _, v := range values {
			items = append(items, strings.Split(v, ",")...)
		}
	}

	slice := reflect.MakeSlice(field.Type(), 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := setScalar(elem, item, name); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem)
	}
	field.Set(slice)
	return nil
}

func setScalar(field reflect.Value, value, name string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return &BindError{Type: "bind_error", Field: name, Message: "must be an integer"}
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return &BindError{Type: "bind_error", Field: name, Message: "must be an unsigned integer"}
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return &BindError{Type: "bind_error", Field: name, Message: "must be a number"}
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &BindError{Type: "bind_error", Field: name, Message: "must be a boolean"}
		}
		field.SetBool(b)
	default:
		return &BindError{Type: "bind_error", Field: name, Message: "unsupported field type: " + field.Kind().String()}
	}
	return nil
}
