package vm

import (
	"fmt"
	"strconv"
)

// Tag identifies the variant held by a Value.
type Tag uint8

const (
	TagNull Tag = iota
	TagNumber
	TagString
	TagObject
	TagPath
	TagList
	TagResource
	TagFault
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagNumber:
		return "number"
	case TagString:
		return "string"
	case TagObject:
		return "object"
	case TagPath:
		return "path"
	case TagList:
		return "list"
	case TagResource:
		return "resource"
	case TagFault:
		return "fault"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Value is an immutable tagged value.
//
// Value is comparable: Null, Number, String, Path and Fault compare
// structurally, Object, List and Resource compare by handle. This makes
// Value usable as a map key for associative lists.
//
// The zero Value is Null.
type Value struct {
	tag Tag
	num float64
	str string
	ref Ref
}

// Null is the null value.
var Null = Value{}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{tag: TagNumber, num: n}
}

// String returns a string value.
func String(s string) Value {
	return Value{tag: TagString, str: s}
}

// PathValue returns a type-path value.
func PathValue(p TypePath) Value {
	return Value{tag: TagPath, str: string(p)}
}

// FaultValue returns the error sentinel carrying msg.
func FaultValue(msg string) Value {
	return Value{tag: TagFault, str: msg}
}

// Bool returns 1 for true and 0 for false.
func Bool(b bool) Value {
	if b {
		return Number(1)
	}
	return Number(0)
}

func objectValue(r Ref) Value   { return Value{tag: TagObject, ref: r} }
func listValue(r Ref) Value     { return Value{tag: TagList, ref: r} }
func resourceValue(r Ref) Value { return Value{tag: TagResource, ref: r} }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Tag returns the variant tag.
func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNull() bool     { return v.tag == TagNull }
func (v Value) IsNumber() bool   { return v.tag == TagNumber }
func (v Value) IsString() bool   { return v.tag == TagString }
func (v Value) IsObject() bool   { return v.tag == TagObject }
func (v Value) IsPath() bool     { return v.tag == TagPath }
func (v Value) IsList() bool     { return v.tag == TagList }
func (v Value) IsResource() bool { return v.tag == TagResource }
func (v Value) IsFault() bool    { return v.tag == TagFault }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) {
	if v.tag != TagNumber {
		return 0, false
	}
	return v.num, true
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	if v.tag != TagString {
		return "", false
	}
	return v.str, true
}

// AsPath returns the type-path payload.
func (v Value) AsPath() (TypePath, bool) {
	if v.tag != TagPath {
		return "", false
	}
	return TypePath(v.str), true
}

// FaultMessage returns the message carried by a Fault value.
func (v Value) FaultMessage() (string, bool) {
	if v.tag != TagFault {
		return "", false
	}
	return v.str, true
}

// Ref returns the table handle of an Object, List or Resource value.
func (v Value) Ref() (Ref, bool) {
	switch v.tag {
	case TagObject, TagList, TagResource:
		return v.ref, true
	}
	return Ref{}, false
}

// IsTruthy reports the value's truth. Null, 0, "" and Fault are false.
func (v Value) IsTruthy() bool {
	switch v.tag {
	case TagNull, TagFault:
		return false
	case TagNumber:
		return v.num != 0
	case TagString:
		return v.str != ""
	}
	return true
}

// String renders the value for logs and traces.
func (v Value) String() string {
	switch v.tag {
	case TagNull:
		return "null"
	case TagNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case TagString:
		return strconv.Quote(v.str)
	case TagPath:
		return v.str
	case TagFault:
		return "fault(" + v.str + ")"
	case TagObject, TagList, TagResource:
		return fmt.Sprintf("%s#%d.%d", v.tag, v.ref.index, v.ref.gen)
	}
	return v.tag.String()
}
