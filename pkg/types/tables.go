package types

// Standard table names for Ledger.GetTable.
const (
	SpecsTable       = "specs"
	SpecHistoryTable = "spec_history"
	ChangesTable     = "changes"
	LinksTable       = "links"
)

// StandardTableNames lists all standard table names for enumeration.
var StandardTableNames = []string{
	SpecsTable,
	SpecHistoryTable,
	ChangesTable,
	LinksTable,
}
