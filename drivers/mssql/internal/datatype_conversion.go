package driver

import (
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/typeutils"
)

// mssqlTypeToDataTypes maps SQL Server types to internal data types.
var mssqlTypeToDataTypes = map[string]types.DataType{
	"tinyint":  types.Int32,
	"smallint": types.Int32,
	"int":      types.Int32,
	"bigint":   types.Int64,

	"decimal":    types.Float64,
	"numeric":    types.Float64,
	"smallmoney": types.Float64,
	"money":      types.Float64,
	"float":      types.Float64,
	"real":       types.Float32,

	"bit": types.Bool,

	"char":     types.String,
	"varchar":  types.String,
	"text":     types.String,
	"nchar":    types.String,
	"nvarchar": types.String,
	"ntext":    types.String,

	"binary":     types.String,
	"varbinary":  types.String,
	"image":      types.String,
	"rowversion": types.String,
	// timestamp is the deprecated synonym of rowversion, not a date type
	"timestamp": types.String,

	"date":           types.Timestamp,
	"smalldatetime":  types.Timestamp,
	"datetime":       types.Timestamp,
	"datetime2":      types.TimestampMicro,
	"datetimeoffset": types.TimestampMicro,
	"time":           types.String,

	"uniqueidentifier": types.String,

	"geometry":    types.String,
	"geography":   types.String,
	"sql_variant": types.String,
	"xml":         types.String,
	"hierarchyid": types.String,
}

// dataTypeConverter converts a raw go-mssqldb value of columnType into the
// value emitted on events. Binary values, the CDC LSN columns among them,
// become 0x prefixed hex strings.
func dataTypeConverter(value any, columnType string) (any, error) {
	if value == nil {
		return nil, typeutils.ErrNullValue
	}

	// SQL Server stores UNIQUEIDENTIFIER values mixed-endian: the first three
	// groups little-endian, the rest big-endian.
	if strings.EqualFold(columnType, "uniqueidentifier") {
		switch v := value.(type) {
		case []byte:
			if len(v) == 16 {
				return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
					v[3], v[2], v[1], v[0],
					v[5], v[4],
					v[7], v[6],
					v[8], v[9],
					v[10], v[11], v[12], v[13], v[14], v[15]), nil
			}
		case string:
			return v, nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}

	if strings.EqualFold(columnType, "binary") || strings.EqualFold(columnType, "varbinary") {
		if v, ok := value.([]byte); ok {
			return fmt.Sprintf("0x%X", v), nil
		}
	}

	olakeType := typeutils.ExtractAndMapColumnType(columnType, mssqlTypeToDataTypes)
	return typeutils.ReformatValue(olakeType, value)
}
