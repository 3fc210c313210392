package model

// DataType is the declared logical type of a schema field. It drives parser
// coercion; there is no runtime type inspection anywhere in the pipeline.
type DataType string

const (
	TypeString   DataType = "string"
	TypeInteger  DataType = "integer"
	TypeLong     DataType = "long"
	TypeDouble   DataType = "double"
	TypeBoolean  DataType = "boolean"
	TypeDatetime DataType = "datetime"
	TypeArray    DataType = "array"
	TypeJSON     DataType = "json"
)

// IsValid checks if the data type is a known value.
func (d DataType) IsValid() bool {
	switch d {
	case TypeString, TypeInteger, TypeLong, TypeDouble, TypeBoolean,
		TypeDatetime, TypeArray, TypeJSON:
		return true
	}
	return false
}

// FieldDef is one field of an alert-type schema: a name, a declared type and
// the dot-separated JSON path it resolves against in the raw payload.
type FieldDef struct {
	Name         string   `json:"name" validate:"required,max=256"`
	Type         DataType `json:"type" validate:"required"`
	Path         string   `json:"path" validate:"required"`
	DisplayOrder int      `json:"display_order"`
}

// Canonical field names special-cased by the parser. The timestamp field
// becomes the alert timestamp, the subtype field becomes the alert subtype;
// every other field flows only into the normalized field map.
const (
	FieldTimestamp = "timestamp"
	FieldSubtype   = "subtype"
)
