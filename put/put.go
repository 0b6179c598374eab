// Package put performs insert-or-update writes of objects against a row store,
// singly or in batches, and announces the affected entities to subscribers
// once the writes are visible.
//
// Each object is written by a Resolver, given explicitly with WithResolver or
// looked up in the DB's Registry by the object's runtime type. Resolvers for
// every object of a batch are found before anything is written, so a batch
// with an object that cannot be resolved writes nothing.
//
// A batch runs in a single transaction unless Transaction(false) is given. A
// transactional batch is all-or-nothing and publishes one notification with
// the union of its changes after it commits. A non-transactional batch
// publishes after each object and keeps the writes made before a failure.
package put

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/dekarrin/jelstor"
	"github.com/dekarrin/jelstor/changes"
	"github.com/dekarrin/jelstor/logging"
	"github.com/dekarrin/jelstor/store"
	"github.com/google/uuid"
)

// DB is the handle that puts are performed with.
type DB struct {
	Store store.Store

	// Registry is used to find the Resolver for objects when none is given
	// explicitly. It may be nil.
	Registry *Registry

	// Notifier receives the changes of every put. It may be nil, in which case
	// nothing is published.
	Notifier *changes.Notifier

	// Log may be nil, in which case nothing is logged.
	Log jelstor.Logger
}

func (db *DB) log() jelstor.Logger {
	if db.Log == nil {
		return logging.NoOpLogger{}
	}
	return db.Log
}

// Option modifies how a put is performed.
type Option func(o *options)

type options struct {
	resolver Resolver
	useTx    *bool
}

// WithResolver makes every object be written by r instead of the Resolver
// registered for its type.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// Transaction sets whether the put is wrapped in a transaction. Batches use
// one by default and single puts do not.
func Transaction(use bool) Option {
	return func(o *options) {
		o.useTx = &use
	}
}

func collectOptions(opts []Option, defaultTx bool) (Resolver, bool) {
	o := options{useTx: &defaultTx}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o.resolver, *o.useTx
}

// Perform puts a single object. It is not run in a transaction unless
// Transaction(true) is given. The changes of the put are published if it
// inserted or updated a row.
//
// All errors are returned as a *jelstor.OperationError.
func Perform(ctx context.Context, db *DB, obj any, opts ...Option) (Result, error) {
	explicit, useTx := collectOptions(opts, false)

	resolvers, err := db.resolveAll([]any{obj}, explicit, false)
	if err != nil {
		return Result{}, &jelstor.OperationError{Op: "put", Subjects: []any{obj}, Err: err}
	}

	var res Result
	if useTx {
		var batchID uuid.UUID
		var results []Result
		results, batchID, err = db.runTx(ctx, []any{obj}, resolvers)
		if err != nil {
			return Result{}, &jelstor.OperationError{Op: "put", BatchID: batchID, Subjects: []any{obj}, Err: err}
		}
		res = results[0]
	} else {
		res, err = db.putOne(ctx, db.Store, resolvers[0], obj)
		if err != nil {
			return Result{}, &jelstor.OperationError{Op: "put", Subjects: []any{obj}, Err: err}
		}
		if res.changed() {
			db.Notifier.Notify(res.Changes())
		}
	}

	return res, nil
}

// PerformBatch puts every object in objs, in order, and returns the Result of
// each keyed by the object. If objs contains the same object more than once,
// it is written each time and the last Result is kept.
//
// All errors are returned as a *jelstor.OperationError.
func PerformBatch[T comparable](ctx context.Context, db *DB, objs []T, opts ...Option) (*Results[T], error) {
	explicit, useTx := collectOptions(opts, true)

	subjects := make([]any, len(objs))
	for i := range objs {
		subjects[i] = objs[i]
	}

	if len(objs) == 0 {
		return NewResults(map[T]Result{}), nil
	}

	resolvers, err := db.resolveAll(subjects, explicit, true)
	if err != nil {
		return nil, &jelstor.OperationError{Op: "batch put", Subjects: subjects, Err: err}
	}

	var results []Result
	var batchID uuid.UUID
	if useTx {
		results, batchID, err = db.runTx(ctx, subjects, resolvers)
	} else {
		results, batchID, err = db.runEach(ctx, subjects, resolvers)
	}
	if err != nil {
		return nil, &jelstor.OperationError{Op: "batch put", BatchID: batchID, Subjects: subjects, Err: err}
	}

	m := make(map[T]Result, len(objs))
	for i := range objs {
		m[objs[i]] = results[i]
	}
	return &Results[T]{results: m}, nil
}

// runTx puts every object inside one transaction and publishes the union of
// their changes after the transaction commits.
func (db *DB) runTx(ctx context.Context, objs []any, resolvers []Resolver) ([]Result, uuid.UUID, error) {
	batchID := uuid.New()
	log := db.log()

	tx, err := db.Store.Begin(ctx)
	if err != nil {
		return nil, batchID, fmt.Errorf("begin transaction: %w", err)
	}
	log.Debugf("batch %s: began transaction for %d object(s)", batchID, len(objs))

	// the transaction is ours until End; it must not be abandoned halfway if
	// ctx is canceled.
	ctx = context.WithoutCancel(ctx)
	pending := db.Notifier.Hold()

	// a panicking resolver must still release the store.
	ended := false
	defer func() {
		if !ended {
			pending.Discard()
			if err := tx.End(); err != nil {
				log.Errorf("batch %s: roll back after panic: %v", batchID, err)
			}
		}
	}()

	results := make([]Result, len(objs))
	for i := range objs {
		res, err := db.putOne(ctx, tx, resolvers[i], objs[i])
		if err != nil {
			pending.Discard()
			ended = true
			if endErr := tx.End(); endErr != nil {
				err = errors.Join(err, fmt.Errorf("roll back: %w", endErr))
			}
			log.Warnf("batch %s: rolled back after object %d of %d failed: %v", batchID, i+1, len(objs), err)
			return nil, batchID, fmt.Errorf("object %d (%v): %w", i, objs[i], err)
		}
		results[i] = res
		if res.changed() {
			pending.Add(res.Changes())
		}
	}

	tx.SetSuccessful()
	ended = true
	if err := tx.End(); err != nil {
		pending.Discard()
		return nil, batchID, fmt.Errorf("commit: %w", err)
	}
	log.Debugf("batch %s: committed", batchID)

	pending.Flush()
	return results, batchID, nil
}

// runEach puts every object on its own, publishing the changes of each as soon
// as it is written. It stops at the first failure.
func (db *DB) runEach(ctx context.Context, objs []any, resolvers []Resolver) ([]Result, uuid.UUID, error) {
	batchID := uuid.New()
	log := db.log()

	results := make([]Result, len(objs))
	for i := range objs {
		res, err := db.putOne(ctx, db.Store, resolvers[i], objs[i])
		if err != nil {
			log.Warnf("batch %s: stopped after object %d of %d failed; %d earlier write(s) kept: %v", batchID, i+1, len(objs), i, err)
			return nil, batchID, fmt.Errorf("object %d (%v): %w", i, objs[i], err)
		}
		results[i] = res
		if res.changed() {
			db.Notifier.Notify(res.Changes())
		}
	}

	log.Debugf("batch %s: put %d object(s) without transaction", batchID, len(objs))
	return results, batchID, nil
}

func (db *DB) putOne(ctx context.Context, ex store.Executor, r Resolver, obj any) (Result, error) {
	res, err := r.PerformPut(ctx, ex, obj)
	if err != nil {
		return Result{}, err
	}
	db.log().Tracef("put %v: %s", obj, res)
	return res, nil
}

// resolveAll finds the Resolver for every object before anything is written.
// Registry lookups are made once per distinct type. If keyed is set, every
// object must also be usable as a map key.
func (db *DB) resolveAll(objs []any, explicit Resolver, keyed bool) ([]Resolver, error) {
	resolvers := make([]Resolver, len(objs))
	byType := map[reflect.Type]Resolver{}

	for i, obj := range objs {
		t := reflect.TypeOf(obj)
		if t == nil {
			return nil, fmt.Errorf("object %d: %w", i, &jelstor.ResolverError{Reason: "object is nil"})
		}
		if keyed && !hashable(obj) {
			return nil, fmt.Errorf("object %d: %w", i, &jelstor.ResolverError{Type: t, Reason: "value is not comparable and cannot key a result"})
		}

		if explicit != nil {
			resolvers[i] = explicit
			continue
		}

		r, ok := byType[t]
		if !ok {
			r, ok = db.Registry.Lookup(t)
			if !ok {
				return nil, fmt.Errorf("object %d: %w", i, &jelstor.ResolverError{Type: t})
			}
			byType[t] = r
		}
		resolvers[i] = r
	}

	return resolvers, nil
}

// hashable reports whether obj can be used as a map key. A comparable type is
// not enough: an interface field holding a slice panics when hashed.
func hashable(obj any) (ok bool) {
	if !reflect.TypeOf(obj).Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[any]struct{}{obj: {}}
	return true
}
