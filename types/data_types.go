package types

type DataType string

const (
	Int32          DataType = "integer_small"
	Int64          DataType = "integer"
	Float32        DataType = "float"
	Float64        DataType = "number"
	String         DataType = "string"
	Bool           DataType = "boolean"
	Timestamp      DataType = "timestamp"
	TimestampMicro DataType = "timestamp_micro"
	Unknown        DataType = "unknown"
)

type Record map[string]any
