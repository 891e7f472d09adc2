// Package catalog provides the SQLite catalog holding workspaces,
// applications, tables, fields, views, trash entries and data syncs.
// User table relations live in the same database file so that a schema
// change and its metadata update commit together.
package catalog

// CreateWorkspacesTableSQL creates the workspaces table.
const CreateWorkspacesTableSQL = `
CREATE TABLE IF NOT EXISTS workspaces (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    trashed INTEGER NOT NULL DEFAULT 0,
    created_on INTEGER NOT NULL
)`

// CreateWorkspaceUsersTableSQL creates the workspace membership table.
const CreateWorkspaceUsersTableSQL = `
CREATE TABLE IF NOT EXISTS workspace_users (
    workspace_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    "order" INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (workspace_id, user_id)
)`

// CreateApplicationsTableSQL creates the applications table.
const CreateApplicationsTableSQL = `
CREATE TABLE IF NOT EXISTS applications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    "order" INTEGER NOT NULL DEFAULT 0,
    trashed INTEGER NOT NULL DEFAULT 0,
    created_on INTEGER NOT NULL
)`

// CreateTablesTableSQL creates the user table registry.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    database_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    "order" INTEGER NOT NULL DEFAULT 0,
    trashed INTEGER NOT NULL DEFAULT 0,
    created_on INTEGER NOT NULL
)`

// CreateFieldsTableSQL creates the field registry. Type specific
// parameters are stored as JSON.
const CreateFieldsTableSQL = `
CREATE TABLE IF NOT EXISTS fields (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    params TEXT NOT NULL DEFAULT '{}',
    "order" INTEGER NOT NULL DEFAULT 0,
    "primary" INTEGER NOT NULL DEFAULT 0,
    read_only INTEGER NOT NULL DEFAULT 0,
    trashed INTEGER NOT NULL DEFAULT 0,
    created_on INTEGER NOT NULL,
    updated_on INTEGER NOT NULL
)`

// CreateViewsTableSQL creates the views table.
const CreateViewsTableSQL = `
CREATE TABLE IF NOT EXISTS views (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    "order" INTEGER NOT NULL DEFAULT 0,
    field_options TEXT NOT NULL DEFAULT '{}',
    trashed INTEGER NOT NULL DEFAULT 0,
    created_on INTEGER NOT NULL
)`

// CreateTrashEntriesTableSQL creates the trash entries table. An item is
// identified by its type, its parent item and its own id.
const CreateTrashEntriesTableSQL = `
CREATE TABLE IF NOT EXISTS trash_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trash_item_type TEXT NOT NULL,
    trash_item_id INTEGER NOT NULL,
    parent_trash_item_id INTEGER,
    parent_entry_id INTEGER,
    workspace_id INTEGER NOT NULL,
    application_id INTEGER,
    user_who_trashed INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    parent_name TEXT NOT NULL DEFAULT '',
    trashed_at INTEGER NOT NULL,
    should_be_permanently_deleted INTEGER NOT NULL DEFAULT 0,
    related_items TEXT NOT NULL DEFAULT '[]'
)`

// CreateDataSyncsTableSQL creates the data sync table.
const CreateDataSyncsTableSQL = `
CREATE TABLE IF NOT EXISTS data_syncs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL UNIQUE,
    type TEXT NOT NULL,
    params TEXT NOT NULL DEFAULT '{}',
    last_sync INTEGER,
    last_error TEXT,
    created_on INTEGER NOT NULL
)`

// CreateDataSyncPropertiesTableSQL maps data sync property keys to fields.
const CreateDataSyncPropertiesTableSQL = `
CREATE TABLE IF NOT EXISTS data_sync_properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data_sync_id INTEGER NOT NULL,
    field_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    UNIQUE (data_sync_id, key)
)`

// CreateFieldBackupsTableSQL stores snappy compressed snapshots taken before
// a field conversion.
const CreateFieldBackupsTableSQL = `
CREATE TABLE IF NOT EXISTS field_backups (
    id TEXT PRIMARY KEY,
    field_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    payload BLOB NOT NULL
)`

// CreateUserFilesTableSQL creates the uploaded file registry.
const CreateUserFilesTableSQL = `
CREATE TABLE IF NOT EXISTS user_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    original_name TEXT NOT NULL,
    size INTEGER NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    uploaded_by INTEGER NOT NULL,
    uploaded_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates the secondary indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_applications_workspace ON applications(workspace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tables_database ON tables(database_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fields_table ON fields(table_id)`,
	`CREATE INDEX IF NOT EXISTS idx_views_table ON views(table_id)`,

	// One entry per trashed item
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_trash_item ON trash_entries(
		trash_item_type, COALESCE(parent_trash_item_id, 0), trash_item_id)`,

	// Retention sweep and permanent deletion
	`CREATE INDEX IF NOT EXISTS idx_trash_sweep ON trash_entries(should_be_permanently_deleted, trashed_at)`,

	// Trash contents per workspace and application
	`CREATE INDEX IF NOT EXISTS idx_trash_container ON trash_entries(workspace_id, application_id)`,

	`CREATE INDEX IF NOT EXISTS idx_field_backups_field ON field_backups(field_id, created_at)`,
}

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateWorkspacesTableSQL,
		CreateWorkspaceUsersTableSQL,
		CreateApplicationsTableSQL,
		CreateTablesTableSQL,
		CreateFieldsTableSQL,
		CreateViewsTableSQL,
		CreateTrashEntriesTableSQL,
		CreateDataSyncsTableSQL,
		CreateDataSyncPropertiesTableSQL,
		CreateFieldBackupsTableSQL,
		CreateUserFilesTableSQL,
	}
	stmts = append(stmts, CreateIndexesSQL...)
	return stmts
}
