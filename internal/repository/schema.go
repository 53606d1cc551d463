package repository

// Schema definitions for the vecina database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS credit_transactions (
    token TEXT PRIMARY KEY,
    store_id TEXT NOT NULL DEFAULT '',
    tendero_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    client_data TEXT,
    store_validation TEXT,
    credit_result TEXT,
    review TEXT,
    version INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_store ON credit_transactions(store_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_status ON credit_transactions(status);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    store_id TEXT,
    customer_id TEXT,
    payload TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_token ON audit_events(token, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type);
`

// schemaRegistrations records credits handed over to the credit system.
// One registration per token.
const schemaRegistrations = `
CREATE TABLE IF NOT EXISTS credit_registrations (
    id TEXT NOT NULL,
    token TEXT PRIMARY KEY,
    store_id TEXT,
    customer_id TEXT,
    assessment TEXT NOT NULL,
    registered_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_registrations_customer ON credit_registrations(customer_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleConfigs,
		schemaAuditEvents,
		schemaRegistrations,
	}
}
