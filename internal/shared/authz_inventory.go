package shared

// Inventory permissions.
const (
	PermInventoryView             = "inventory.view"
	PermInventoryPost             = "inventory.post"
	PermInventoryOverrideNegative = "inventory.override_negative"
	PermInventoryReconcile        = "inventory.reconcile"
)

// InventoryScopes lists all permissions related to the inventory ledger.
func InventoryScopes() []string {
	return []string{
		PermInventoryView,
		PermInventoryPost,
		PermInventoryOverrideNegative,
		PermInventoryReconcile,
	}
}
