/*
Jelstor puts rows read from JSON files into a row store, inserting rows that
are new and updating rows that already exist.

Usage:

	jelstor [flags] FILE...

Each FILE holds a JSON object or an array of JSON objects. Every object is put
as one row of the table given with --table. An object whose id column holds a
row id updates that row, or is inserted with that id if no such row exists;
objects with no id are inserted and given a new one. All objects of all files
are put as a single batch, which by default runs in one transaction so that
either every row is written or none are. Use "-" to read from stdin.

When done, the number of inserted rows and the number of updated rows are
printed, followed by the result for each object.

The flags are:

	-c, --config PATH
		Load configuration from the given JSON or YAML file. Flags override
		the values it sets.

	-d, --db CONN
		Use the given store instead of the configured one. CONN is either
		"sqlite:DIR" or "inmem[:authority=NAME,file=PATH]".

	-t, --table TABLE
		Put rows into TABLE. Required. For inmem stores with an authority,
		this may also be a content URI such as "content://NAME/TABLE".

	--id-column COL
		Use COL as the row id column. Defaults to "_id".

	--tag TAG
		Add TAG to the announced changes. May be given more than once.

	--schema FILE
		Execute the SQL statements in FILE before putting, such as CREATE
		TABLE statements. Only valid for sqlite stores.

	--no-tx
		Put each object on its own instead of in a single transaction. Rows
		put before a failure are kept.

	-v, --verbose
		Enable logging to stderr.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/config"
	"github.com/dekarrin/jelstor/put"
	"github.com/dekarrin/jelstor/row"
	"github.com/dekarrin/jelstor/store/inmem"
	"github.com/dekarrin/jelstor/store/sqlite"
	"github.com/spf13/pflag"
)

const (
	exitSuccess   = 0
	exitError     = 1
	exitPanic     = 2
	exitInterrupt = 3
	exitUsage     = 4
)

// announceWait bounds how long run waits to report the announced changes.
const announceWait = time.Second

var exitCode int

var (
	flagConf     = pflag.StringP("config", "c", "", "Path to configuration file")
	flagDB       = pflag.StringP("db", "d", "", "Store connection string, overriding the configured one")
	flagTable    = pflag.StringP("table", "t", "", "Table to put rows into")
	flagIDColumn = pflag.String("id-column", "", "Name of the row id column")
	flagTags     = pflag.StringArray("tag", nil, "Tag to add to announced changes")
	flagSchema   = pflag.String("schema", "", "SQL file to execute before putting (sqlite only)")
	flagNoTx     = pflag.Bool("no-tx", false, "Put each object on its own instead of in one transaction")
	flagVerbose  = pflag.BoolP("verbose", "v", false, "Enable logging to stderr")
)

// putOptions is the fully-resolved set of options for a run.
type putOptions struct {
	cfg    config.Config
	table  string
	tags   []string
	schema string
	files  []string
}

func main() {
	ctx := context.Background()
	ctx, cancelMainContext := context.WithCancel(ctx)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer func() {
		signal.Stop(signalChan)
		cancelMainContext()
	}()
	go func() {
		select {
		case <-signalChan: // first signal, cancel context
			cancelMainContext()
		case <-ctx.Done():
		}

		<-signalChan // second signal, hard exit
		os.Exit(exitInterrupt)
	}()

	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	pflag.Parse()

	opts, err := optionsFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		fmt.Fprintf(os.Stderr, "Use --help for usage\n")
		exitCode = exitUsage
		return
	}

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		if errors.Is(err, context.Canceled) {
			exitCode = exitInterrupt
		} else {
			exitCode = exitError
		}
		return
	}
}

func optionsFromFlags() (putOptions, error) {
	var opts putOptions
	var err error

	if *flagConf != "" {
		opts.cfg, err = config.Load(*flagConf)
		if err != nil {
			return opts, err
		}
	}

	if *flagDB != "" {
		opts.cfg.DB, err = config.ParseDBConnString(*flagDB)
		if err != nil {
			return opts, fmt.Errorf("--db: %w", err)
		}
	}
	if *flagIDColumn != "" {
		opts.cfg.Puts.IDColumn = *flagIDColumn
	}
	if *flagNoTx {
		useTx := false
		opts.cfg.Puts.UseTransaction = &useTx
	}
	if *flagVerbose {
		opts.cfg.Log.Enabled = true
	}

	opts.cfg = opts.cfg.FillDefaults()
	if err := opts.cfg.Validate(); err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}

	if *flagTable == "" {
		return opts, fmt.Errorf("--table is required")
	}
	opts.table = *flagTable
	opts.tags = *flagTags
	opts.schema = *flagSchema

	opts.files = pflag.Args()
	if len(opts.files) < 1 {
		return opts, fmt.Errorf("at least one input file is required")
	}

	return opts, nil
}

// run puts the rows of every input file and writes a report to out. The file
// name "-" reads from stdin.
func run(ctx context.Context, opts putOptions, stdin io.Reader, out io.Writer) error {
	if opts.schema != "" && opts.cfg.DB.Type != config.DatabaseSQLite {
		return fmt.Errorf("schema: only sqlite stores take a schema")
	}

	log, err := opts.cfg.Log.Create()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	var rows []*row.Row
	for _, file := range opts.files {
		fileRows, err := readInput(file, stdin)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		log.Debugf("read %d object(s) from %s", len(fileRows), file)
		rows = append(rows, fileRows...)
	}

	st, err := opts.cfg.DB.Connect()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warnf("close store: %v", err)
		}
	}()

	switch typed := st.(type) {
	case *inmem.Store:
		typed.IDColumn = opts.cfg.Puts.IDColumn
	case *sqlite.Store:
		if opts.schema != "" {
			stmts, err := os.ReadFile(opts.schema)
			if err != nil {
				return fmt.Errorf("schema: %w", err)
			}
			if err := typed.Exec(ctx, string(stmts)); err != nil {
				return fmt.Errorf("schema: %w", err)
			}
		}
	}

	var bus changes.Bus
	defer bus.Close()
	sub := bus.Subscribe(changes.Filter{})
	defer sub.Close()

	db := &put.DB{
		Store:    st,
		Notifier: changes.NewNotifier(&bus, log),
		Log:      log,
	}

	resolver := put.NewRowResolver(opts.table, opts.cfg.Puts.IDColumn, opts.tags...)
	results, err := put.PerformBatch(ctx, db, rows,
		put.WithResolver(resolver),
		put.Transaction(opts.cfg.Puts.Transactional()),
	)
	if err != nil {
		var opErr *jelstor.OperationError
		if errors.As(err, &opErr) {
			log.Errorf("batch %s failed", opErr.BatchID)
		}
		return err
	}

	fmt.Fprintf(out, "%d inserted, %d updated\n", results.NumberOfInserts(), results.NumberOfUpdates())
	for i, r := range rows {
		res, _ := results.Get(r)
		fmt.Fprintf(out, "%d: %s\n", i, res)
	}

	if results.Len() > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, announceWait)
		defer cancel()
		announced, err := sub.Next(waitCtx)
		if err == nil {
			log.Infof("announced %s", announced)
		}
	}

	return nil
}

func readInput(file string, stdin io.Reader) ([]*row.Row, error) {
	if file == "-" {
		return readRows(stdin)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readRows(f)
}
