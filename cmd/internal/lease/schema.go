package lease

import "strings"

// TableName is the auth code table shared by every backend.
const TableName = "auth_code_pool"

// postgresDDL creates the table in the configured schema. {{table}} is replaced with the sanitized identifier.
const postgresDDL = `
CREATE TABLE IF NOT EXISTS {{table}} (
  pool_id          BIGSERIAL PRIMARY KEY,
  code             TEXT NOT NULL,
  status           TEXT NOT NULL DEFAULT 'available',
  assigned_to      BIGINT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  assigned_at      TIMESTAMPTZ NULL,
  expires_minutes  INTEGER NOT NULL DEFAULT 1440,
  in_use           BOOLEAN NOT NULL DEFAULT false,
  in_use_since     TIMESTAMPTZ NULL,
  bound_room       TEXT NULL,
  note             TEXT NULL,
  CONSTRAINT auth_code_pool_status_chk CHECK (status IN ('available', 'assigned')),
  CONSTRAINT auth_code_pool_expires_chk CHECK (expires_minutes > 0),
  CONSTRAINT auth_code_pool_lease_chk CHECK (
    (in_use AND bound_room IS NOT NULL AND in_use_since IS NOT NULL)
    OR (NOT in_use AND bound_room IS NULL AND in_use_since IS NULL)
  )
);
CREATE UNIQUE INDEX IF NOT EXISTS auth_code_pool_code_uq ON {{table}} (code);
CREATE INDEX IF NOT EXISTS auth_code_pool_in_use_since_idx ON {{table}} (in_use_since) WHERE in_use;
CREATE INDEX IF NOT EXISTS auth_code_pool_holder_idx ON {{table}} (assigned_to, assigned_at DESC);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS auth_code_pool (
  pool_id          INTEGER PRIMARY KEY AUTOINCREMENT,
  code             TEXT NOT NULL UNIQUE,
  status           TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'assigned')),
  assigned_to      INTEGER NULL,
  created_at       INTEGER NOT NULL,
  assigned_at      INTEGER NULL,
  expires_minutes  INTEGER NOT NULL DEFAULT 1440 CHECK (expires_minutes > 0),
  in_use           INTEGER NOT NULL DEFAULT 0,
  in_use_since     INTEGER NULL,
  bound_room       TEXT NULL,
  note             TEXT NULL,
  CONSTRAINT auth_code_pool_lease_chk CHECK (
    (in_use = 1 AND bound_room IS NOT NULL AND in_use_since IS NOT NULL)
    OR (in_use = 0 AND bound_room IS NULL AND in_use_since IS NULL)
  )
);
CREATE INDEX IF NOT EXISTS auth_code_pool_in_use_since_idx ON auth_code_pool (in_use, in_use_since);
CREATE INDEX IF NOT EXISTS auth_code_pool_holder_idx ON auth_code_pool (assigned_to, assigned_at DESC);
`

func renderDDL(ddl, table string) string {
	return strings.ReplaceAll(ddl, "{{table}}", table)
}
