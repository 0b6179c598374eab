package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dekarrin/jelstor"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type marshaledDatabase struct {
	Type      string `yaml:"type" json:"type"`
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	File      string `yaml:"file,omitempty" json:"file,omitempty"`
	Authority string `yaml:"authority,omitempty" json:"authority,omitempty"`
}

type marshaledLog struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider" json:"provider"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
}

type marshaledPuts struct {
	Transaction *bool  `yaml:"transaction,omitempty" json:"transaction,omitempty"`
	IDColumn    string `yaml:"id_column,omitempty" json:"id_column,omitempty"`
}

type marshaledConfig struct {
	DB      marshaledDatabase `yaml:"db" json:"db"`
	Logging marshaledLog      `yaml:"logging" json:"logging"`
	Puts    marshaledPuts     `yaml:"puts" json:"puts"`
}

func decode(f Format, data []byte) (Config, error) {
	var cfg Config
	var mc marshaledConfig
	var err error

	switch f {
	case JSON:
		err = json.Unmarshal(data, &mc)
	case YAML:
		err = yaml.Unmarshal(data, &mc)
	default:
		return cfg, fmt.Errorf("cannot unmarshal data in format %q", f.String())
	}

	if err != nil {
		return cfg, err
	}

	cfg.Format = f
	err = unmarshalConfig(&cfg, mc)
	return cfg, err
}

func encode(f Format, c Config) ([]byte, error) {
	mc := marshalConfig(c)
	var err error
	var data []byte

	switch f {
	case JSON:
		data, err = json.MarshalIndent(mc, "", "  ")
	case YAML:
		data, err = yaml.Marshal(mc)
	default:
		return nil, fmt.Errorf("cannot marshal data in format %q", f.String())
	}

	return data, err
}

// SupportedFormats returns a list of formats that the config module supports
// decoding. Includes all but NoFormat.
func SupportedFormats() []Format {
	return []Format{JSON, YAML}
}

// DetectFormat detects the format of a given configuration file and returns the
// Format that can decode it. Returns NoFormat if the format could not be
// detected.
func DetectFormat(file string) Format {
	ext := strings.ToLower(filepath.Ext(file))
	ext = strings.TrimPrefix(ext, ".")

	for _, f := range SupportedFormats() {
		for _, checkedExt := range f.Extensions() {
			if ext == strings.ToLower(checkedExt) {
				return f
			}
		}
	}

	return NoFormat
}

// Dump dumps the configuration into the bytes in a formatted file. This is the
// complete representation of the current state of the Config, and if parsed by
// Load, would result in an equivalent config.
//
// The config will be dumped in the same format it was loaded with, or will
// default to YAML if the cfg was created without loading from a data stream.
//
// This function will cause a panic if there is a problem marshaling the config
// data in its format.
func Dump(cfg Config) []byte {
	f := cfg.Format
	if f == NoFormat {
		f = YAML
	}
	b, err := encode(f, cfg)
	if err != nil {
		panic(fmt.Sprintf("format encoding failed: %v", err))
	}
	return b
}

// Load loads a configuration from a JSON or YAML file. The format of the file
// is determined by examining its extension; files ending in .json or .jsn are
// parsed as JSON files, and files ending in .yaml or .yml are parsed as YAML
// files. Other extensions are not supported. The extension is not
// case-sensitive.
func Load(file string) (Config, error) {
	f := DetectFormat(file)
	if f == NoFormat {
		var msg strings.Builder

		formats := SupportedFormats()
		for i, f := range formats {
			exts := f.Extensions()
			for j, ext := range exts {
				// if on the last ext of the last format and there was at least
				// one before, add a leading "or "
				if j+1 >= len(exts) && i+1 >= len(formats) && msg.Len() > 0 {
					msg.WriteString("or ")
				}

				msg.WriteRune('.')
				msg.WriteString(ext)

				// if there is at least one more extension, add an ", "
				if j+1 < len(exts) || i+1 < len(formats) {
					msg.WriteString(", ")
				}
			}
		}

		return Config{}, fmt.Errorf("%s: incompatible format; must be a %s file", file, msg.String())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", file, err)
	}

	cfg, err := decode(f, data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", file, err)
	}
	return cfg, nil
}

func unmarshalConfig(cfg *Config, mc marshaledConfig) error {
	var err error

	if cfg.DB, err = unmarshalDatabase(mc.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if cfg.Log, err = unmarshalLog(mc.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	cfg.Puts = Puts{
		UseTransaction: mc.Puts.Transaction,
		IDColumn:       mc.Puts.IDColumn,
	}

	return nil
}

func marshalConfig(cfg Config) marshaledConfig {
	return marshaledConfig{
		DB:      marshalDatabase(cfg.DB),
		Logging: marshalLog(cfg.Log),
		Puts: marshaledPuts{
			Transaction: cfg.Puts.UseTransaction,
			IDColumn:    cfg.Puts.IDColumn,
		},
	}
}

func unmarshalDatabase(m marshaledDatabase) (Database, error) {
	db := Database{
		DataDir:   filepath.FromSlash(m.Dir),
		DataFile:  m.File,
		Authority: m.Authority,
	}

	if m.Type == "" {
		return db, nil
	}

	var err error
	db.Type, err = ParseDBType(m.Type)
	if err != nil {
		return db, fmt.Errorf("type: %w", err)
	}
	return db, nil
}

func marshalDatabase(db Database) marshaledDatabase {
	m := marshaledDatabase{
		Dir:       filepath.ToSlash(db.DataDir),
		File:      db.DataFile,
		Authority: db.Authority,
	}
	if db.Type != DatabaseNone && db.Type != "" {
		m.Type = db.Type.String()
	}
	return m
}

func unmarshalLog(m marshaledLog) (Log, error) {
	p, err := jelstor.ParseLogProvider(m.Provider)
	if err != nil {
		return Log{}, fmt.Errorf("provider: %w", err)
	}

	return Log{
		Enabled:  m.Enabled,
		Provider: p,
		File:     m.File,
	}, nil
}

func marshalLog(log Log) marshaledLog {
	m := marshaledLog{
		Enabled: log.Enabled,
		File:    log.File,
	}
	if log.Provider != jelstor.NoLog {
		m.Provider = log.Provider.String()
	}
	return m
}
