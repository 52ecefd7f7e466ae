package configstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Migration is one schema step. Up runs inside the transaction that
// records the step in schema_migrations.
type Migration struct {
	Version int64
	Name    string
	Up      func(*sql.Tx) error
}

// Migrator applies pending migrations in version order.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// AddMigration registers a migration.
func (m *Migrator) AddMigration(mig Migration) {
	m.migrations = append(m.migrations, mig)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Run applies every migration newer than the recorded version.
func (m *Migrator) Run() error {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.run(mig); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Version returns the highest applied migration, 0 for a fresh database.
func (m *Migrator) Version() (int64, error) {
	var v int64
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func (m *Migrator) run(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger().Warn("migration rollback", "version", mig.Version, "err", err)
		}
	}()
	if err := mig.Up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name); err != nil {
		return err
	}
	return tx.Commit()
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Owned rows (addresses, ranges, rules, bindings) cascade with their
// parent. References between top-level entities do not: deleting a bridge
// that still has members, or a pool still served on an interface, fails.
// List order of owned rows is insertion order (rowid).
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_initial_tables",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE system (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
				`CREATE TABLE bridges (
					name TEXT PRIMARY KEY,
					shutdown INTEGER NOT NULL DEFAULT 1,
					description TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE nat_pools (
					name TEXT PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					translation TEXT NOT NULL DEFAULT 'masquerade' CHECK (translation IN ('masquerade', 'snat')),
					snat_address TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE dhcp_pools (
					name TEXT PRIMARY KEY,
					subnet TEXT NOT NULL DEFAULT '',
					v6_mode TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE wifi_policies (
					name TEXT PRIMARY KEY,
					ssid TEXT NOT NULL DEFAULT '',
					passphrase TEXT NOT NULL DEFAULT '',
					wpa_mode TEXT NOT NULL DEFAULT '',
					hw_mode TEXT NOT NULL DEFAULT '',
					channel INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE firewall_policies (
					name TEXT PRIMARY KEY
				)`,
				`CREATE TABLE interfaces (
					name TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					shutdown INTEGER NOT NULL DEFAULT 1,
					description TEXT NOT NULL DEFAULT '',
					mac TEXT NOT NULL DEFAULT '',
					duplex TEXT NOT NULL DEFAULT '',
					speed TEXT NOT NULL DEFAULT '',
					proxy_arp INTEGER NOT NULL DEFAULT 0,
					drop_gratuitous_arp INTEGER NOT NULL DEFAULT 0,
					bridge TEXT REFERENCES bridges(name),
					nat_direction TEXT CHECK (nat_direction IN ('inside', 'outside')),
					nat_pool TEXT REFERENCES nat_pools(name),
					dhcp_pool TEXT REFERENCES dhcp_pools(name),
					wifi_policy TEXT REFERENCES wifi_policies(name),
					wifi_channel INTEGER NOT NULL DEFAULT 0,
					wifi_hw_mode TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE interface_addresses (
					interface TEXT NOT NULL REFERENCES interfaces(name) ON DELETE CASCADE,
					prefix TEXT NOT NULL,
					secondary INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (interface, prefix)
				)`,
				`CREATE TABLE static_arps (
					interface TEXT NOT NULL REFERENCES interfaces(name) ON DELETE CASCADE,
					ip TEXT NOT NULL,
					mac TEXT NOT NULL,
					PRIMARY KEY (interface, ip)
				)`,
				`CREATE TABLE interface_firewall (
					interface TEXT NOT NULL REFERENCES interfaces(name) ON DELETE CASCADE,
					direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
					policy TEXT NOT NULL REFERENCES firewall_policies(name),
					PRIMARY KEY (interface, direction)
				)`,
				`CREATE TABLE vlans (
					id INTEGER PRIMARY KEY CHECK (id BETWEEN 1 AND 4094),
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE vlan_bindings (
					vlan_id INTEGER NOT NULL REFERENCES vlans(id) ON DELETE CASCADE,
					interface TEXT UNIQUE REFERENCES interfaces(name),
					bridge TEXT UNIQUE REFERENCES bridges(name),
					CHECK ((interface IS NULL) != (bridge IS NULL))
				)`,
				`CREATE TABLE dhcp_ranges (
					pool TEXT NOT NULL REFERENCES dhcp_pools(name) ON DELETE CASCADE,
					start_ip TEXT NOT NULL,
					end_ip TEXT NOT NULL,
					PRIMARY KEY (pool, start_ip, end_ip)
				)`,
				`CREATE TABLE dhcp_reservations (
					pool TEXT NOT NULL REFERENCES dhcp_pools(name) ON DELETE CASCADE,
					mac TEXT NOT NULL,
					ip TEXT NOT NULL,
					PRIMARY KEY (pool, mac),
					UNIQUE (pool, ip)
				)`,
				`CREATE TABLE dhcp_options (
					pool TEXT NOT NULL REFERENCES dhcp_pools(name) ON DELETE CASCADE,
					name TEXT NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (pool, name)
				)`,
				`CREATE TABLE firewall_rules (
					policy TEXT NOT NULL REFERENCES firewall_policies(name) ON DELETE CASCADE,
					seq INTEGER NOT NULL,
					action TEXT NOT NULL CHECK (action IN ('allow', 'deny')),
					proto TEXT NOT NULL,
					src TEXT NOT NULL,
					dst TEXT NOT NULL,
					src_port INTEGER NOT NULL DEFAULT 0,
					dst_port INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (policy, seq)
				)`,
				`CREATE TABLE renames (
					alias TEXT PRIMARY KEY,
					bus_info TEXT NOT NULL UNIQUE,
					original TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE TABLE routes (
					prefix TEXT NOT NULL,
					gateway TEXT NOT NULL,
					interface TEXT REFERENCES interfaces(name),
					PRIMARY KEY (prefix, gateway)
				)`,
				`CREATE INDEX idx_interfaces_bridge ON interfaces(bridge)`,
				`CREATE INDEX idx_interfaces_dhcp_pool ON interfaces(dhcp_pool)`,
				`CREATE INDEX idx_vlan_bindings_vlan ON vlan_bindings(vlan_id)`,
			)
		},
	},
	{
		Version: 2,
		Name:    "create_commit_log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE commit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					committed_at DATETIME NOT NULL,
					mode TEXT NOT NULL,
					command TEXT NOT NULL,
					ops INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_commit_log_committed_at ON commit_log(committed_at)`,
			)
		},
	},
	{
		Version: 3,
		Name:    "add_interface_dhcp_client",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE interfaces ADD COLUMN dhcp_client INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE interfaces ADD COLUMN dhcp_client6 INTEGER NOT NULL DEFAULT 0`,
			)
		},
	},
}
