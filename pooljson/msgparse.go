package pooljson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// methodField is the key every message carries its method in.
const methodField = "message"

// MarshalMsg marshals the passed message to a JSON object tagged with the
// message method.  The provided message type must be a registered type.
func MarshalMsg(msg interface{}) ([]byte, error) {
	method, err := MsgMethod(msg)
	if err != nil {
		return nil, err
	}

	// The provided message must not be nil.
	rv := reflect.ValueOf(msg)
	if rv.IsNil() {
		str := "the specified message is nil"
		return nil, makeError(ErrInvalidType, str)
	}

	fields, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"` + methodField + `":`)
	buf.Write(tag)
	if body := bytes.TrimSpace(fields[1 : len(fields)-1]); len(body) > 0 {
		buf.WriteByte(',')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalMsg parses a JSON object into the concrete message type registered
// for its method.  Fields the type does not declare are rejected.  When a
// method has several types, the first one the object decodes into wins.
func UnmarshalMsg(data []byte) (interface{}, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		str := fmt.Sprintf("malformed message: %v", err)
		return nil, makeError(ErrMalformed, str)
	}
	if fields == nil {
		return nil, makeError(ErrMalformed, "malformed message: null")
	}

	rawMethod, ok := fields[methodField]
	if !ok {
		str := fmt.Sprintf("message has no %q field", methodField)
		return nil, makeError(ErrMissingMethod, str)
	}
	var method string
	if err := json.Unmarshal(rawMethod, &method); err != nil {
		str := fmt.Sprintf("field %q must be a string", methodField)
		return nil, makeError(ErrMalformed, str)
	}
	delete(fields, methodField)

	registerLock.RLock()
	types := methodToConcreteTypes[method]
	registerLock.RUnlock()
	if len(types) == 0 {
		str := fmt.Sprintf("%q is not registered", method)
		return nil, makeError(ErrUnregisteredMethod, str)
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, rtp := range types {
		msg := reflect.New(rtp.Elem()).Interface()
		err := decodeStrict(method, body, msg)
		if err == nil {
			err = checkRequired(method, rtp.Elem(), fields)
		}
		if err == nil {
			return msg, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// checkRequired ensures every field without the omitempty option is present.
func checkRequired(method string, rt reflect.Type, fields map[string]json.RawMessage) error {
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		name, opts := parts[0], parts[1:]

		required := true
		for _, opt := range opts {
			if opt == "omitempty" {
				required = false
			}
		}
		if _, ok := fields[name]; required && !ok {
			str := fmt.Sprintf("%s: missing field %q", method, name)
			return makeError(ErrMalformed, str)
		}
	}
	return nil
}

// decodeStrict decodes body into msg, rejecting unknown fields.
func decodeStrict(method string, body []byte, msg interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	err := dec.Decode(msg)
	if err == nil {
		return nil
	}

	// The most common error is the wrong type, so explicitly detect that
	// error and make it nicer.
	var jerr *json.UnmarshalTypeError
	if errors.As(err, &jerr) {
		str := fmt.Sprintf("%s: field '%s' must be type %v (got %v)",
			method, jerr.Field, jerr.Type, jerr.Value)
		return makeError(ErrMalformed, str)
	}
	if strings.HasPrefix(err.Error(), "json: unknown field") {
		str := fmt.Sprintf("%s: %s", method,
			strings.TrimPrefix(err.Error(), "json: "))
		return makeError(ErrUnknownField, str)
	}

	str := fmt.Sprintf("%s: failed to unmarshal: %v", method, err)
	return makeError(ErrMalformed, str)
}
