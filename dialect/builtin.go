package dialect

import "github.com/syssam/strata/schema/field"

// Built-in dialects. Use Clone before modifying one of them.
var (
	DefaultDialect  = newDefault()
	PostgresDialect = newPostgres()
	MySQLDialect    = newMySQL()
	SQLiteDialect   = newSQLite()
)

func init() {
	for _, d := range []Dialect{DefaultDialect, PostgresDialect, MySQLDialect, SQLiteDialect} {
		Register(d)
	}
}

// reserved words shared by the built-in dialects. Only words that collide
// with plausible table or column names are listed.
var ansiReserved = words(
	"all", "and", "any", "as", "asc", "between", "by", "case", "check",
	"column", "constraint", "create", "cross", "current_date", "current_time",
	"current_timestamp", "default", "delete", "desc", "distinct", "drop",
	"else", "end", "except", "exists", "false", "for", "foreign", "from",
	"full", "grant", "group", "having", "in", "inner", "insert", "intersect",
	"into", "is", "join", "key", "left", "like", "limit", "not", "null",
	"offset", "on", "or", "order", "outer", "primary", "references", "right",
	"select", "set", "table", "then", "to", "true", "union", "unique",
	"update", "user", "using", "values", "when", "where", "with",
)

func words(ws ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		m[w] = struct{}{}
	}
	return m
}

func features(fs ...Feature) map[Feature]bool {
	m := make(map[Feature]bool, len(fs))
	for _, f := range fs {
		m[f] = true
	}
	return m
}

func genericTypes() map[field.Type]string {
	return map[field.Type]string{
		field.TypeBool:    "BOOLEAN",
		field.TypeTime:    "TIMESTAMP",
		field.TypeJSON:    "JSON",
		field.TypeUUID:    "UUID",
		field.TypeBytes:   "BLOB",
		field.TypeEnum:    "VARCHAR",
		field.TypeString:  "VARCHAR",
		field.TypeInt8:    "SMALLINT",
		field.TypeInt16:   "SMALLINT",
		field.TypeInt32:   "INTEGER",
		field.TypeInt:     "INTEGER",
		field.TypeInt64:   "BIGINT",
		field.TypeUint8:   "SMALLINT",
		field.TypeUint16:  "INTEGER",
		field.TypeUint32:  "BIGINT",
		field.TypeUint:    "BIGINT",
		field.TypeUint64:  "BIGINT",
		field.TypeFloat32: "REAL",
		field.TypeFloat64: "DOUBLE PRECISION",
	}
}

// newDefault is the dialect used to render statements for display. It
// supports every construct so that any tree can be printed.
func newDefault() *Descriptor {
	return &Descriptor{
		DialectName: Default,
		QuoteStart:  '"',
		QuoteEnd:    '"',
		Style:       Named,
		Features: features(
			FeatureReturning, FeatureFullOuterJoin, FeatureRightJoin,
			FeatureMultiRowInsert, FeatureDefaultValues, FeatureCTE,
			FeatureForUpdate, FeatureOffsetWithoutLimit, FeatureBoolLiteral,
		),
		Types:    genericTypes(),
		Reserved: ansiReserved,
	}
}

func newPostgres() *Descriptor {
	types := genericTypes()
	types[field.TypeTime] = "TIMESTAMP WITH TIME ZONE"
	types[field.TypeJSON] = "JSONB"
	types[field.TypeBytes] = "BYTEA"
	return &Descriptor{
		DialectName: Postgres,
		QuoteStart:  '"',
		QuoteEnd:    '"',
		Style:       Dollar,
		Features: features(
			FeatureReturning, FeatureFullOuterJoin, FeatureRightJoin,
			FeatureMultiRowInsert, FeatureDefaultValues, FeatureCTE,
			FeatureForUpdate, FeatureOffsetWithoutLimit, FeatureBoolLiteral,
		),
		Types:       types,
		MaxIdentLen: 63,
		Reserved:    ansiReserved,
	}
}

func newMySQL() *Descriptor {
	types := genericTypes()
	types[field.TypeBool] = "BOOL"
	types[field.TypeTime] = "DATETIME"
	types[field.TypeUUID] = "CHAR(36)"
	types[field.TypeString] = "VARCHAR(255)"
	types[field.TypeEnum] = "VARCHAR(255)"
	types[field.TypeFloat64] = "DOUBLE"
	reserved := words("key", "keys", "index", "status", "rank", "groups")
	for w := range ansiReserved {
		reserved[w] = struct{}{}
	}
	return &Descriptor{
		DialectName: MySQL,
		QuoteStart:  '`',
		QuoteEnd:    '`',
		Style:       Qmark,
		Features: features(
			FeatureRightJoin, FeatureMultiRowInsert, FeatureLastInsertID,
			FeatureCTE, FeatureForUpdate,
		),
		Types:       types,
		MaxIdentLen: 64,
		Reserved:    reserved,
		BoolAsInt:   true,
	}
}

func newSQLite() *Descriptor {
	types := genericTypes()
	types[field.TypeTime] = "DATETIME"
	types[field.TypeUUID] = "TEXT"
	types[field.TypeString] = "TEXT"
	types[field.TypeEnum] = "TEXT"
	types[field.TypeFloat64] = "REAL"
	return &Descriptor{
		DialectName: SQLite,
		QuoteStart:  '"',
		QuoteEnd:    '"',
		Style:       Qmark,
		Features: features(
			FeatureReturning, FeatureMultiRowInsert, FeatureDefaultValues,
			FeatureLastInsertID, FeatureCTE,
		),
		Types:    types,
		Reserved: ansiReserved,
	}
}
