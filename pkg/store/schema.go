package store

// CurrentSchemaVersion is the schema version this build of the store
// understands. Opening a database stamped with any other version fails
// with ErrSchemaVersion.
const CurrentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vouchers (
	number      TEXT PRIMARY KEY,
	created     INTEGER NOT NULL,
	state       INTEGER NOT NULL,
	finished    INTEGER,
	token_count INTEGER
);

CREATE TABLE IF NOT EXISTS random_tokens (
	token          TEXT PRIMARY KEY,
	voucher_number TEXT NOT NULL REFERENCES vouchers(number)
);

CREATE TABLE IF NOT EXISTS unblinded_tokens (
	sequence       INTEGER PRIMARY KEY AUTOINCREMENT,
	token          TEXT NOT NULL UNIQUE,
	voucher_number TEXT NOT NULL REFERENCES vouchers(number)
);

CREATE TABLE IF NOT EXISTS lease_maintenance (
	id              TEXT PRIMARY KEY,
	started         INTEGER NOT NULL,
	finished        INTEGER,
	passes_required INTEGER NOT NULL
);
`

// voucher state codes as stored in the vouchers.state column.
const (
	stateCodePending     = 0
	stateCodeRedeemed    = 1
	stateCodeDoubleSpend = 2
)
