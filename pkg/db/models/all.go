package models

// All lists every persisted model; tests AutoMigrate it against sqlite.
func All() []any {
	return []any{
		&Vendor{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&WebhookEvent{},
		&Inventory{},
		&InventoryTransaction{},
		&LowStockAlert{},
		&VendorLedgerEntry{},
		&VendorPayout{},
		&Shipment{},
		&Task{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
