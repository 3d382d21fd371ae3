package abstract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

func TestSelectQueryStrategy(t *testing.T) {
	tests := []struct {
		name            string
		mode            types.DataQueryMode
		maxTransactions int
		fetchSize       int
		expected        RetrievalContract
	}{
		{"function_defaults", types.QueryFunction, 500, 0, RetrievalContract{Kind: FunctionCall, MaxTransactions: 500}},
		{"direct", types.QueryDirect, 100, 2000, RetrievalContract{Kind: TableScan, MaxTransactions: 100, FetchSize: 2000}},
		{"unbounded", types.QueryFunction, 0, 0, RetrievalContract{Kind: FunctionCall}},
		{"negative_bounds_clamped", types.QueryDirect, -1, -5, RetrievalContract{Kind: TableScan}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			contract := SelectQueryStrategy(tc.mode, tc.maxTransactions, tc.fetchSize)
			assert.Equal(t, tc.expected, contract)
			assert.Equal(t, contract, SelectQueryStrategy(tc.mode, tc.maxTransactions, tc.fetchSize))
		})
	}
}
