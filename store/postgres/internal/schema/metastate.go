package schema

// Names of the keys for the metastate key-value table.
const (
	MigrationMetastateKey = "migration"
)
