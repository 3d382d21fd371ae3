package abstract

import (
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

type RetrievalKind string

const (
	// FunctionCall reads changes through the capture instance's change function.
	FunctionCall RetrievalKind = "function_call"
	// TableScan reads the change table directly with a position predicate.
	TableScan RetrievalKind = "table_scan"
)

// RetrievalContract tells a change source how to fetch one iteration of changes.
type RetrievalContract struct {
	Kind RetrievalKind
	// MaxTransactions caps the source transactions read per iteration, 0 is unbounded.
	MaxTransactions int
	// FetchSize caps the rows read per query, 0 lets the driver decide.
	FetchSize int
}

func (c RetrievalContract) String() string {
	return fmt.Sprintf("%s(max_transactions=%d, fetch_size=%d)", c.Kind, c.MaxTransactions, c.FetchSize)
}

// SelectQueryStrategy maps the configured data query mode and bounds to a
// retrieval contract. The same inputs always give the same contract.
func SelectQueryStrategy(mode types.DataQueryMode, maxTransactions, fetchSize int) RetrievalContract {
	contract := RetrievalContract{
		Kind:            FunctionCall,
		MaxTransactions: max(maxTransactions, 0),
		FetchSize:       max(fetchSize, 0),
	}
	if mode == types.QueryDirect {
		contract.Kind = TableScan
	}
	return contract
}
