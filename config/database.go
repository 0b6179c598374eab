package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dekarrin/jelstor/store"
	"github.com/dekarrin/jelstor/store/inmem"
	"github.com/dekarrin/jelstor/store/sqlite"
)

// DBType is the type of a Database connection.
type DBType string

func (dbt DBType) String() string {
	return string(dbt)
}

const (
	DatabaseNone     DBType = "none"
	DatabaseSQLite   DBType = "sqlite"
	DatabaseInMemory DBType = "inmem"
)

// DefaultSQLiteFile is the name of the database file created in the data
// directory of a sqlite Database when none is given.
const DefaultSQLiteFile = "jelstor.db"

// ParseDBType parses a string found in a connection string into a DBType.
func ParseDBType(s string) (DBType, error) {
	sLower := strings.ToLower(s)

	switch sLower {
	case DatabaseSQLite.String():
		return DatabaseSQLite, nil
	case DatabaseInMemory.String():
		return DatabaseInMemory, nil
	default:
		return DatabaseNone, fmt.Errorf("DB type not one of 'sqlite' or 'inmem': %q", s)
	}
}

// Database contains configuration settings for connecting to a row store.
type Database struct {
	// Type is the type of database the config refers to. It also determines
	// which of its other fields are valid.
	Type DBType

	// DataDir is the path on disk to a directory to store data in. This is
	// only applicable for sqlite.
	DataDir string

	// DataFile is the name of the file data is kept in. For sqlite it is
	// relative to DataDir and defaults to DefaultSQLiteFile. For inmem it is
	// the path of the snapshot file; an inmem store with no DataFile is never
	// saved.
	DataFile string

	// Authority is the authority of the resource locators an inmem store
	// assigns to inserted rows. Only applicable for inmem.
	Authority string
}

func (db Database) FillDefaults() Database {
	newDB := db

	if newDB.Type == DatabaseSQLite && newDB.DataFile == "" {
		newDB.DataFile = DefaultSQLiteFile
	}

	return newDB
}

// Validate returns an error if the Database does not have the correct fields
// set. Its type will be checked to ensure that it is a valid type to use and
// any fields necessary for connecting to that type of DB are also checked.
func (db Database) Validate() error {
	switch db.Type {
	case DatabaseInMemory:
		if db.DataDir != "" {
			return fmt.Errorf("DataDir is not used by inmem DB; use DataFile")
		}
		return nil
	case DatabaseSQLite:
		if db.DataDir == "" {
			return fmt.Errorf("DataDir not set to path")
		}
		if db.Authority != "" {
			return fmt.Errorf("Authority is not used by sqlite DB")
		}
		return nil
	case DatabaseNone, "":
		return fmt.Errorf("'none' DB is not valid")
	default:
		return fmt.Errorf("unknown database type: %q", db.Type.String())
	}
}

// Connect performs all logic needed to connect to the configured DB and
// initialize the store for use, using the built-in connectors.
func (db Database) Connect() (store.Store, error) {
	var cr ConnectorRegistry
	return cr.Connect(db)
}

// ParseDBConnString parses a database connection string of the form
// "engine:params" (or just "engine" if no other params are required) into a
// valid Database config object.
//
// Supported database types and a sample string containing valid configurations
// for each are shown below. Placeholder values are between angle brackets,
// optional parts are between square brackets. Ordering of parameters does not
// matter.
//
// * In-memory store: "inmem[:authority=<name>,file=<path/to/snapshot>]"
// * SQLite3 DB file: "sqlite:</path/to/db/dir>"
func ParseDBConnString(s string) (Database, error) {
	var paramStr string
	dbParts := strings.SplitN(s, ":", 2)

	if len(dbParts) == 2 {
		paramStr = strings.TrimSpace(dbParts[1])
	}

	// parse the first section into a type, from there we can determine if
	// further params are required.
	dbEng, err := ParseDBType(strings.TrimSpace(dbParts[0]))
	if err != nil {
		return Database{}, fmt.Errorf("unsupported DB engine: %w", err)
	}

	switch dbEng {
	case DatabaseInMemory:
		db := Database{Type: DatabaseInMemory}
		if paramStr == "" {
			return db, nil
		}

		params, err := parseParamsMap(paramStr)
		if err != nil {
			return Database{}, err
		}
		for k, v := range params {
			switch k {
			case "authority":
				db.Authority = v
			case "file":
				db.DataFile = filepath.FromSlash(v)
			default:
				return Database{}, fmt.Errorf("unsupported param for in-memory DB engine: %q", k)
			}
		}
		return db, nil
	case DatabaseSQLite:
		// there must be options
		if paramStr == "" {
			return Database{}, fmt.Errorf("sqlite DB engine requires path to data directory after ':'")
		}

		// the only option is the DB path, as long as the param str isn't
		// literally blank, it can be used.
		dd := filepath.FromSlash(paramStr)
		return Database{Type: DatabaseSQLite, DataDir: dd}, nil
	default:
		return Database{}, fmt.Errorf("unknown DB engine: %q", dbEng.String())
	}
}

func parseParamsMap(paramStr string) (map[string]string, error) {
	seqs := splitWithEscaped(paramStr, ',')
	if len(seqs) < 1 {
		return nil, fmt.Errorf("not a map format string: %q", paramStr)
	}

	params := map[string]string{}
	for idx, kv := range seqs {
		parsed := splitWithEscaped(kv, '=')
		if len(parsed) != 2 {
			return nil, fmt.Errorf("param %d: not a kv-pair: %q", idx, kv)
		}
		k := strings.ToLower(strings.TrimSpace(unescape(parsed[0])))
		v := unescape(parsed[1])
		if _, ok := params[k]; ok {
			return nil, fmt.Errorf("param %d: duplicate key %q", idx, k)
		}
		params[k] = v
	}

	return params, nil
}

// splitWithEscaped splits s on every sep that is not preceded by a backslash.
// Escape sequences are kept in the returned parts.
func splitWithEscaped(s string, sep rune) []string {
	var split []string
	var cur strings.Builder

	sr := []rune(s)
	for i := 0; i < len(sr); i++ {
		ch := sr[i]

		if ch == '\\' && i+1 < len(sr) {
			cur.WriteRune(ch)
			cur.WriteRune(sr[i+1])
			i++
			continue
		}
		if ch == sep {
			split = append(split, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(ch)
	}

	if cur.Len() > 0 || len(split) > 0 {
		split = append(split, cur.String())
	}

	return split
}

func unescape(s string) string {
	var sb strings.Builder
	sr := []rune(s)
	for i := 0; i < len(sr); i++ {
		if sr[i] == '\\' && i+1 < len(sr) {
			i++
		}
		sb.WriteRune(sr[i])
	}
	return sb.String()
}

// ConnectorRegistry holds registered connector functions for opening row
// stores for each database type.
//
// The zero value can be immediately used and will have the built-in sqlite and
// inmem connectors available. This can be disabled by setting DisableDefaults
// to true before attempting to use it.
type ConnectorRegistry struct {
	DisableDefaults bool
	reg             map[DBType]func(Database) (store.Store, error)
	custom          map[DBType]bool
}

func (cr *ConnectorRegistry) initDefaults() {
	if cr.reg == nil {
		cr.reg = map[DBType]func(Database) (store.Store, error){}

		if !cr.DisableDefaults {
			cr.reg[DatabaseInMemory] = connectInMemory
			cr.reg[DatabaseSQLite] = connectSQLite
		}
	}
}

// Register sets the connector used for engine. A built-in connector may be
// replaced, but a connector registered by a previous call to Register may not.
func (cr *ConnectorRegistry) Register(engine DBType, connector func(Database) (store.Store, error)) error {
	if connector == nil {
		return fmt.Errorf("connector function cannot be nil")
	}
	if engine == DatabaseNone || engine == "" {
		return fmt.Errorf("cannot register a connector for 'none' DB")
	}

	cr.initDefaults()

	if _, ok := cr.reg[engine]; ok && !cr.isBuiltIn(engine) {
		return fmt.Errorf("duplicate connector registration; %q already has a registered connector", engine)
	}

	cr.reg[engine] = connector
	if cr.custom == nil {
		cr.custom = map[DBType]bool{}
	}
	cr.custom[engine] = true
	return nil
}

func (cr *ConnectorRegistry) isBuiltIn(engine DBType) bool {
	return !cr.custom[engine]
}

// List returns an alphabetized list of all DB types that currently have a
// connector.
func (cr *ConnectorRegistry) List() []DBType {
	cr.initDefaults()

	types := make([]DBType, 0, len(cr.reg))
	for k := range cr.reg {
		types = append(types, k)
	}

	sort.Slice(types, func(i, j int) bool {
		return types[i] < types[j]
	})
	return types
}

// Connect opens a connection to the configured database.
func (cr *ConnectorRegistry) Connect(db Database) (store.Store, error) {
	cr.initDefaults()

	if db.Type == DatabaseNone || db.Type == "" {
		return nil, fmt.Errorf("cannot connect to 'none' DB")
	}

	connector, ok := cr.reg[db.Type]
	if !ok {
		return nil, fmt.Errorf("%q has no registered connector", db.Type)
	}

	return connector(db.FillDefaults())
}

func connectInMemory(db Database) (store.Store, error) {
	if db.DataFile == "" {
		return inmem.New(db.Authority), nil
	}

	st, err := inmem.Open(db.DataFile, db.Authority)
	if err != nil {
		return nil, fmt.Errorf("initialize inmem: %w", err)
	}
	return st, nil
}

func connectSQLite(db Database) (store.Store, error) {
	err := os.MkdirAll(db.DataDir, 0770)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := sqlite.Open(filepath.Join(db.DataDir, db.DataFile))
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite: %w", err)
	}

	return st, nil
}
