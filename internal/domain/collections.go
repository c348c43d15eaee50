package domain

// Collection names. Every collection except Counters replicates.
const (
	CollectionBranches        = "branches"
	CollectionDepartments     = "departments"
	CollectionCategories      = "categories"
	CollectionItems           = "items"
	CollectionExpenses        = "expenses"
	CollectionTransactions    = "transactions"
	CollectionReturns         = "returns"
	CollectionReports         = "reports"
	CollectionInventoryChecks = "inventory-checks"
	CollectionLogs            = "logs"

	// CollectionCounters holds node-local sales id counters.
	CollectionCounters = "counters"
)

// ReplicatedCollections lists the collections exchanged with the authority.
func ReplicatedCollections() []string {
	return []string{
		CollectionBranches,
		CollectionDepartments,
		CollectionCategories,
		CollectionItems,
		CollectionExpenses,
		CollectionTransactions,
		CollectionReturns,
		CollectionReports,
		CollectionInventoryChecks,
		CollectionLogs,
	}
}

// AllCollections lists every collection a store must serve.
func AllCollections() []string {
	return append(ReplicatedCollections(), CollectionCounters)
}
