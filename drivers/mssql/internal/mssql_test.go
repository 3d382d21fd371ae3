package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
)

func lsn(n uint32) types.Lsn {
	var l types.Lsn
	binary.BigEndian.PutUint32(l[6:], n)
	return l
}

func validConfig() *Config {
	return &Config{
		Host:     "localhost",
		Database: "inventory",
		Username: "sa",
		Password: "Password!123",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "http host", mutate: func(c *Config) { c.Host = "http://localhost" }, wantErr: "host should not contain http"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port number"},
		{name: "missing database", mutate: func(c *Config) { c.Database = "" }, wantErr: "database"},
		{name: "unqualified table", mutate: func(c *Config) { c.Tables = []string{"orders"} }, wantErr: "schema qualified table name"},
		{name: "qualified tables", mutate: func(c *Config) { c.Tables = []string{"dbo.orders", "sales.customers"} }},
		{name: "bad application intent", mutate: func(c *Config) { c.ApplicationIntent = "Sometimes" }, wantErr: "database.applicationIntent"},
		{name: "custom lock without hint", mutate: func(c *Config) { c.Options.SnapshotLockingMode = "custom" }, wantErr: "snapshot.locking.custom.hint"},
		{name: "verify-ca without ca", mutate: func(c *Config) { c.SSLConfiguration = &utils.SSLConfig{Mode: utils.SSLModeVerifyCA} }, wantErr: "ssl.server_ca"},
		{name: "negative fetch size", mutate: func(c *Config) { c.Options.StreamingFetchSize = -1 }, wantErr: "invalid connector options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1433, config.Port)
			assert.Equal(t, utils.SSLModeDisable, config.SSLConfiguration.Mode)
		})
	}
}

func TestBuildConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		expected map[string]string
		absent   []string
	}{
		{
			name:     "encryption disabled",
			mutate:   func(c *Config) {},
			expected: map[string]string{"database": "inventory", "encrypt": "disable", "app name": applicationName},
			absent:   []string{"ApplicationIntent"},
		},
		{
			name: "read only replica",
			mutate: func(c *Config) {
				c.ApplicationIntent = ApplicationIntentReadOnly
			},
			expected: map[string]string{"ApplicationIntent": "ReadOnly"},
		},
		{
			name: "require trusts server certificate",
			mutate: func(c *Config) {
				c.SSLConfiguration = &utils.SSLConfig{Mode: utils.SSLModeRequire}
			},
			expected: map[string]string{"encrypt": "true", "TrustServerCertificate": "true"},
		},
		{
			name: "verify full checks the certificate",
			mutate: func(c *Config) {
				c.SSLConfiguration = &utils.SSLConfig{Mode: utils.SSLModeVerifyFull, ServerCA: "/certs/ca.pem", HostNameInCertificate: "db.internal"}
			},
			expected: map[string]string{"encrypt": "true", "certificate": "/certs/ca.pem", "hostNameInCertificate": "db.internal"},
			absent:   []string{"TrustServerCertificate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			require.NoError(t, config.Validate())

			parsed, err := url.Parse((&MSSQL{config: config}).buildConnectionString())
			require.NoError(t, err)
			assert.Equal(t, "sqlserver", parsed.Scheme)
			assert.Equal(t, "localhost:1433", parsed.Host)
			query := parsed.Query()
			for key, value := range tt.expected {
				assert.Equal(t, value, query.Get(key), key)
			}
			for _, key := range tt.absent {
				assert.False(t, query.Has(key), key)
			}
		})
	}
}

func TestLockHint(t *testing.T) {
	config := validConfig()
	config.CustomLockHint = "TABLOCK, HOLDLOCK"
	assert.Equal(t, "TABLOCKX", config.lockHint(types.LockingExclusive))
	assert.Equal(t, "TABLOCK, HOLDLOCK", config.lockHint(types.LockingCustom))
}

func TestSelectInstance(t *testing.T) {
	orders := types.TableID{Schema: "dbo", Table: "orders"}
	v1 := captureInstance{table: orders, name: "dbo_orders", startLsn: lsn(10)}
	v2 := captureInstance{table: orders, name: "dbo_orders_v2", startLsn: lsn(50)}

	tests := []struct {
		name     string
		from     types.Lsn
		selected string
		next     string
	}{
		{name: "before every instance", from: types.NoLsn, selected: "dbo_orders", next: "dbo_orders_v2"},
		{name: "inside first instance", from: lsn(20), selected: "dbo_orders", next: "dbo_orders_v2"},
		{name: "at newer instance start", from: lsn(50), selected: "dbo_orders_v2"},
		{name: "after newer instance start", from: lsn(90), selected: "dbo_orders_v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, next, ok := selectInstance([]captureInstance{v1, v2}, tt.from)
			require.True(t, ok)
			assert.Equal(t, tt.selected, selected.name)
			if tt.next == "" {
				assert.Nil(t, next)
			} else {
				require.NotNil(t, next)
				assert.Equal(t, tt.next, next.name)
			}
		})
	}

	_, _, ok := selectInstance(nil, lsn(1))
	assert.False(t, ok)
}

func TestChangeEvent(t *testing.T) {
	record := types.Record{
		"__$start_lsn":   "0x0000000000000000002A",
		"__$seqval":      "0x0000000000000000002B",
		"__$operation":   int64(4),
		"__$update_mask": "0x03",
		"id":             int64(7),
		"status":         "shipped",
	}

	event, skip, err := changeEvent("dbo.orders", []string{"id"}, record)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, types.UpdateKind, event.Kind)
	assert.Equal(t, []any{int64(7)}, event.Key)
	assert.Equal(t, types.NewPosition(lsn(42), lsn(43), 4), event.Position)
	assert.Equal(t, types.Record{"id": int64(7), "status": "shipped"}, event.Data)

	before := types.Record{"__$start_lsn": "0x0000000000000000002A", "__$seqval": "0x0000000000000000002B", "__$operation": int64(3), "id": int64(7)}
	_, skip, err = changeEvent("dbo.orders", []string{"id"}, before)
	require.NoError(t, err)
	assert.True(t, skip)

	_, _, err = changeEvent("dbo.orders", nil, types.Record{"__$start_lsn": 12, "__$operation": int64(2)})
	assert.Error(t, err)
}

func TestOperationKind(t *testing.T) {
	assert.Equal(t, types.DeleteKind, operationKind(opDelete))
	assert.Equal(t, types.InsertKind, operationKind(opInsert))
	assert.Equal(t, types.UpdateKind, operationKind(opUpdateAfter))
}

func TestMergeChanges(t *testing.T) {
	event := func(table string, commit, change uint32) types.ChangeEvent {
		return types.ChangeEvent{Table: table, Kind: types.InsertKind, Position: types.NewPosition(lsn(commit), lsn(change), opInsert)}
	}
	positions := func(events []types.ChangeEvent) []types.Position {
		var out []types.Position
		for _, e := range events {
			out = append(out, e.Position)
		}
		return out
	}

	t.Run("interleaves tables in position order", func(t *testing.T) {
		batches := []changeBatch{
			{table: "dbo.orders", events: []types.ChangeEvent{event("dbo.orders", 11, 1), event("dbo.orders", 13, 1)}},
			{table: "dbo.customers", events: []types.ChangeEvent{event("dbo.customers", 11, 2), event("dbo.customers", 12, 1)}},
		}
		events, reached := mergeChanges(batches, types.CommitPosition(lsn(10)), lsn(20))

		assert.Equal(t, []types.Position{
			event("", 11, 1).Position, event("", 11, 2).Position, event("", 12, 1).Position, event("", 13, 1).Position,
		}, positions(events))
		assert.Equal(t, []bool{false, true, true, true}, []bool{events[0].TxEnd, events[1].TxEnd, events[2].TxEnd, events[3].TxEnd})
		assert.Equal(t, types.CommitPosition(lsn(20)), reached, "reached covers the whole read range")
	})

	t.Run("skips events at or before from", func(t *testing.T) {
		from := event("", 11, 2).Position
		batches := []changeBatch{{events: []types.ChangeEvent{event("dbo.orders", 11, 1), event("dbo.orders", 11, 2), event("dbo.orders", 11, 3)}}}
		events, reached := mergeChanges(batches, from, lsn(11))

		assert.Equal(t, []types.Position{event("", 11, 3).Position}, positions(events))
		assert.Equal(t, types.CommitPosition(lsn(11)), reached, "the read range ends with commit 11")
	})

	t.Run("single transaction window moves past the consumed commit", func(t *testing.T) {
		from := types.CommitPosition(lsn(10))
		batches := []changeBatch{{events: []types.ChangeEvent{event("dbo.orders", 10, 1), event("dbo.orders", 11, 1), event("dbo.orders", 11, 2)}}}
		events, reached := mergeChanges(batches, from, lsn(11))

		assert.Equal(t, []types.Position{event("", 11, 1).Position, event("", 11, 2).Position}, positions(events))
		assert.Equal(t, types.CommitPosition(lsn(11)), reached)
		assert.True(t, reached.After(from))
	})

	t.Run("truncated table holds back later events", func(t *testing.T) {
		batches := []changeBatch{
			{table: "dbo.orders", events: []types.ChangeEvent{event("dbo.orders", 11, 1), event("dbo.orders", 14, 1)}, truncated: true, last: event("", 14, 1).Position},
			{table: "dbo.customers", events: []types.ChangeEvent{event("dbo.customers", 12, 1), event("dbo.customers", 16, 1)}},
		}
		events, reached := mergeChanges(batches, types.CommitPosition(lsn(10)), lsn(20))

		assert.Equal(t, []types.Position{event("", 11, 1).Position, event("", 12, 1).Position, event("", 14, 1).Position}, positions(events))
		assert.Equal(t, event("", 14, 1).Position, reached)
		assert.False(t, events[2].TxEnd, "a truncated read may stop inside a transaction")
	})

	t.Run("nothing read keeps from", func(t *testing.T) {
		from := types.CommitPosition(lsn(30))
		events, reached := mergeChanges(nil, from, lsn(30))
		assert.Empty(t, events)
		assert.Equal(t, from, reached)
	})
}

func TestWindowStart(t *testing.T) {
	increment := func(_ context.Context, l types.Lsn) (types.Lsn, error) {
		return lsn(binary.BigEndian.Uint32(l[6:]) + 1), nil
	}
	failing := func(context.Context, types.Lsn) (types.Lsn, error) {
		return types.NoLsn, errors.New("connection reset")
	}

	tests := []struct {
		name      string
		from      types.Position
		increment func(context.Context, types.Lsn) (types.Lsn, error)
		expected  types.Lsn
		wantErr   bool
	}{
		{name: "consumed commit starts after it", from: types.CommitPosition(lsn(10)), increment: increment, expected: lsn(11)},
		{name: "inside a commit starts at it", from: types.NewPosition(lsn(10), lsn(10), opInsert), increment: failing, expected: lsn(10)},
		{name: "no position starts from the beginning", from: types.NoPosition, increment: failing, expected: types.NoLsn},
		{name: "increment failure", from: types.CommitPosition(lsn(10)), increment: failing, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, err := windowStart(context.Background(), tt.from, tt.increment)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, start)
		})
	}
}

func TestDataTypeConverter(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		columnType string
		expected   any
	}{
		{name: "uniqueidentifier", value: []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, columnType: "UNIQUEIDENTIFIER", expected: "00112233-4455-6677-8899-aabbccddeeff"},
		{name: "binary lsn", value: []byte{0x00, 0x00, 0x00, 0x27, 0x00, 0x00, 0x07, 0x58, 0x00, 0x05}, columnType: "BINARY", expected: "0x00000027000007580005"},
		{name: "int widened", value: int64(5), columnType: "INT", expected: int64(5)},
		{name: "nvarchar", value: "shipped", columnType: "NVARCHAR", expected: "shipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := dataTypeConverter(tt.value, tt.columnType)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
		})
	}

	_, err := dataTypeConverter(nil, "INT")
	assert.Error(t, err)
}
