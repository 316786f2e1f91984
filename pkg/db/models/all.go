package models

// All lists every ledger model, in dependency order, for sqlite auto-migration.
func All() []any {
	return []any{
		&Registry{},
		&RegistryItem{},
		&Contribution{},
		&Redemption{},
		&FlaggedTransaction{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
