package driver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/pkg/jdbc"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
	"github.com/datazip-inc/olake-mssql-cdc/utils/typeutils"
)

const applicationName = "olake-mssql-cdc"

type MSSQL struct {
	client *sqlx.DB
	config *Config

	// capture instance name -> index columns
	keyColumns *xsync.MapOf[string, []string]
}

// GetConfigRef implements abstract.DataSource.
func (m *MSSQL) GetConfigRef() abstract.Config {
	m.config = &Config{}
	return m.config
}

// Spec implements abstract.DataSource. It returns a config template holding
// the defaults.
func (m *MSSQL) Spec() any {
	return Config{
		Host:       "localhost",
		Port:       1433,
		MaxThreads: constants.DefaultThreadCount,
		RetryCount: constants.DefaultRetryCount,
		SSLConfiguration: &utils.SSLConfig{
			Mode: utils.SSLModeDisable,
		},
		Options: abstract.Options{
			SnapshotMode:          string(types.DefaultSnapshotMode),
			SnapshotIsolationMode: string(types.DefaultSnapshotIsolationMode),
			SnapshotLockingMode:   string(types.DefaultSnapshotLockingMode),
			DataQueryMode:         string(types.DefaultDataQueryMode),
			IncrementalChunkSize:  constants.DefaultIncrementalChunkSize,
		},
	}
}

// Database returns the configured database name.
func (m *MSSQL) Database() string {
	return m.config.Database
}

// Type implements abstract.DataSource.
func (m *MSSQL) Type() string {
	return string(constants.MSSQL)
}

// Options returns the connector options of the loaded config.
func (m *MSSQL) Options() abstract.Options {
	return m.config.Options
}

// IsReadOnly reports whether the connection uses ApplicationIntent=ReadOnly.
func (m *MSSQL) IsReadOnly() bool {
	return m.config.readOnly()
}

// Setup establishes the database connection and checks that CDC is enabled.
func (m *MSSQL) Setup(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("failed to validate config: %s", err)
	}

	db, err := sql.Open("sqlserver", m.buildConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open MSSQL connection: %s", err)
	}

	client := sqlx.NewDb(db, "sqlserver").Unsafe()
	client.SetMaxOpenConns(m.config.MaxThreads)

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, constants.DefaultConnectTimeout)
			defer cancel()
			return client.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.config.RetryCount)),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warnf("failed to ping MSSQL (attempt %d): %s", attempt+1, err)
		}),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to ping database: %s", err)
	}
	m.client = client
	m.keyColumns = xsync.NewMapOf[string, []string]()

	enabled, err := m.isCDCSupported(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("CDC is not enabled for database %s", m.config.Database)
	}
	logger.Infof("connected to MSSQL database %s (application intent %s)", m.config.Database,
		utils.Ternary(m.IsReadOnly(), ApplicationIntentReadOnly, ApplicationIntentReadWrite).(string))
	return nil
}

func (m *MSSQL) buildConnectionString() string {
	host := m.config.Host
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, m.config.Port)
	}

	query := url.Values{}
	query.Add("database", m.config.Database)
	query.Add("app name", applicationName)
	if m.config.readOnly() {
		query.Add("ApplicationIntent", ApplicationIntentReadOnly)
	}

	// encrypt accepts "disable", "true" and "false"
	ssl := m.config.SSLConfiguration
	if ssl == nil {
		query.Add("encrypt", "disable")
	} else {
		switch ssl.Mode {
		case utils.SSLModeRequire:
			query.Add("encrypt", "true")
			query.Add("TrustServerCertificate", "true")
		case utils.SSLModeVerifyCA, utils.SSLModeVerifyFull:
			query.Add("encrypt", "true")
			query.Add("certificate", ssl.ServerCA)
			if ssl.HostNameInCertificate != "" {
				query.Add("hostNameInCertificate", ssl.HostNameInCertificate)
			}
		default:
			query.Add("encrypt", "disable")
		}
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(m.config.Username, m.config.Password),
		Host:     host,
		RawQuery: query.Encode(),
	}

	return u.String()
}

// Close ensures proper cleanup
func (m *MSSQL) Close() error {
	if m.client != nil {
		err := m.client.Close()
		if err != nil {
			logger.Errorf("failed to close connection with MSSQL: %s", err)
		}
	}
	return nil
}

// Tables lists the user tables of the database.
func (m *MSSQL) Tables(ctx context.Context) ([]string, error) {
	rows, err := m.client.QueryContext(ctx, jdbc.MSSQLDiscoverTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %s", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var table types.TableID
		if err := rows.Scan(&table.Schema, &table.Table); err != nil {
			return nil, fmt.Errorf("failed to scan table: %s", err)
		}
		tableNames = append(tableNames, table.String())
	}
	return tableNames, rows.Err()
}

// CapturedTables returns the tables that have a capture instance, restricted
// to the configured tables when any are set.
func (m *MSSQL) CapturedTables(ctx context.Context) ([]string, error) {
	instances, err := m.captureInstances(ctx)
	if err != nil {
		return nil, err
	}

	captured := types.NewSet[string]()
	var ordered []string
	for _, instance := range instances {
		table := instance.table.String()
		if !captured.Exists(table) {
			captured.Insert(table)
			ordered = append(ordered, table)
		}
	}
	if len(m.config.Tables) == 0 {
		return ordered, nil
	}

	var selected []string
	for _, table := range m.config.Tables {
		if !captured.Exists(table) {
			logger.Warnf("table %s has no CDC capture instance and is not captured", table)
			continue
		}
		selected = append(selected, table)
	}
	return selected, nil
}

// CaptureSchema reads the current column layout and primary key of a table.
func (m *MSSQL) CaptureSchema(ctx context.Context, table string) (types.TableSchema, error) {
	id, err := types.ParseTableID(table)
	if err != nil {
		return types.TableSchema{}, err
	}
	logger.Debugf("capturing schema of table %s", table)

	schema := types.TableSchema{Table: id.String()}
	err = jdbc.NewReader(ctx, m.client, jdbc.MSSQLTableSchemaQuery(), id.Schema, id.Table).Capture(func(rows *sql.Rows) error {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return fmt.Errorf("failed to scan column: %s", err)
		}
		schema.Columns = append(schema.Columns, types.Column{
			Name:     name,
			Type:     mapColumnType(table, name, dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
		return nil
	})
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("failed to query column information of table %s: %s", table, err)
	}
	if len(schema.Columns) == 0 {
		return types.TableSchema{}, fmt.Errorf("table %s not found", table)
	}

	err = jdbc.NewReader(ctx, m.client, jdbc.MSSQLPrimaryKeyQuery(), id.Schema, id.Table).Capture(func(rows *sql.Rows) error {
		var column string
		if err := rows.Scan(&column); err != nil {
			return fmt.Errorf("failed to scan primary key column: %s", err)
		}
		schema.PrimaryKey = append(schema.PrimaryKey, column)
		return nil
	})
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("failed to retrieve primary keys for table %s: %s", table, err)
	}
	return schema, nil
}

func mapColumnType(table, column, columnType string) types.DataType {
	datatype := typeutils.ExtractAndMapColumnType(columnType, mssqlTypeToDataTypes)
	if datatype == types.Unknown {
		logger.Warnf("unsupported MSSQL type '%s' for column '%s.%s', defaulting to String", columnType, table, column)
		return types.String
	}
	return datatype
}

func (m *MSSQL) isCDCSupported(ctx context.Context) (bool, error) {
	// sys.databases.is_cdc_enabled is a BIT; go-mssqldb returns it as bool.
	var isEnabled bool
	err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCSupportQuery()).Scan(&isEnabled)
	if err != nil {
		return false, fmt.Errorf("failed to check MSSQL CDC enablement: %s", err)
	}

	return isEnabled, nil
}
