// Package config contains configuration options for a jelstor put engine as
// well as the loading and dumping of config files.
package config

import (
	"fmt"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/logging"
	"github.com/dekarrin/jelstor/put"
)

// Format is a serialization format of a config file.
type Format int

const (
	NoFormat Format = iota
	JSON
	YAML
)

func (f Format) String() string {
	switch f {
	case NoFormat:
		return "NoFormat"
	case JSON:
		return "JSON"
	case YAML:
		return "YAML"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Extensions returns the file extensions, without the leading dot, that files
// in format f are recognized by. The first is the one used when writing.
func (f Format) Extensions() []string {
	switch f {
	case JSON:
		return []string{"json", "jsn"}
	case YAML:
		return []string{"yaml", "yml"}
	default:
		return nil
	}
}

// Log contains logging options.
type Log struct {
	// Enabled is whether to enable built-in logging statements.
	Enabled bool

	// Provider must be the name of one of the logging providers. If set to
	// None or unset, it will default to jelstor.Jellog.
	Provider jelstor.LogProvider

	// File to log to. If not set, all logging will be done to stderr and it
	// will display all logging statements. If set, the file will receive all
	// levels of log messages and stderr will show only those of Info level or
	// higher.
	File string
}

// Create creates the configured logger. If logging is not enabled, a
// logging.NoOpLogger is returned.
func (log Log) Create() (jelstor.Logger, error) {
	if !log.Enabled {
		return logging.NoOpLogger{}, nil
	}
	return logging.New(log.Provider, log.File)
}

func (log Log) FillDefaults() Log {
	newLog := log

	if newLog.Provider == jelstor.NoLog {
		newLog.Provider = jelstor.Jellog
	}

	return newLog
}

func (log Log) Validate() error {
	if log.Provider == jelstor.NoLog {
		return fmt.Errorf("provider: must not be empty")
	}

	return nil
}

// Puts holds the defaults applied to put operations.
type Puts struct {
	// UseTransaction is whether batch puts run inside a single transaction.
	// A nil value means the default, which is true.
	UseTransaction *bool

	// IDColumn is the name of the row id column used by resolvers built from
	// configuration. It defaults to put.DefaultIDColumn.
	IDColumn string
}

// Transactional returns whether batch puts should use a transaction.
func (p Puts) Transactional() bool {
	if p.UseTransaction == nil {
		return true
	}
	return *p.UseTransaction
}

func (p Puts) FillDefaults() Puts {
	newP := p

	if newP.UseTransaction == nil {
		useTx := true
		newP.UseTransaction = &useTx
	}
	if newP.IDColumn == "" {
		newP.IDColumn = put.DefaultIDColumn
	}

	return newP
}

func (p Puts) Validate() error {
	if p.IDColumn == "" {
		return fmt.Errorf("id column: must not be empty")
	}

	return nil
}

// Config is a complete configuration for connecting a put engine to its store.
type Config struct {
	// DB is the configuration to use for connecting to the row store. If not
	// provided, it will be set to a configuration for an in-memory store.
	DB Database

	// Log is used to configure the built-in logging system. It can be left
	// blank to disable logging entirely.
	Log Log

	// Puts holds put operation defaults.
	Puts Puts

	// Format is the format the config was loaded from, used in Dump. It is
	// NoFormat for configs that were not loaded from a file.
	Format Format
}

// FillDefaults returns a new Config identitical to cfg but with unset values
// set to their defaults.
func (cfg Config) FillDefaults() Config {
	newCFG := cfg

	if newCFG.DB.Type == DatabaseNone || newCFG.DB.Type == "" {
		newCFG.DB = Database{Type: DatabaseInMemory}
	}
	newCFG.DB = newCFG.DB.FillDefaults()
	newCFG.Log = newCFG.Log.FillDefaults()
	newCFG.Puts = newCFG.Puts.FillDefaults()

	return newCFG
}

// Validate returns an error if the Config has invalid field values set. Empty
// and unset values are considered invalid; if defaults are intended to be used,
// call Validate on the return value of FillDefaults.
func (cfg Config) Validate() error {
	if err := cfg.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := cfg.Puts.Validate(); err != nil {
		return fmt.Errorf("puts: %w", err)
	}

	return nil
}
