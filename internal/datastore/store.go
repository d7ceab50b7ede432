package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"maps"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/repostore/internal/cipher"
	"github.com/roach88/repostore/internal/codec"
	"github.com/roach88/repostore/internal/config"
	"github.com/roach88/repostore/internal/entity"
	"github.com/roach88/repostore/internal/mapper"
)

const (
	schemaAttempts = 5
	schemaBackoff  = 100 * time.Millisecond
)

// DataStore owns one connection pool, the access types registered against
// it and its frozen flag.
//
// A DataStore is safe for concurrent use. Sessions are not.
type DataStore struct {
	name     string
	log      zerolog.Logger
	cipher   *cipher.Service
	handlers *codec.Registry
	idGen    entity.Generator
	fallback *codec.TypeRegistry
	engines  []*Engine

	frozen   atomic.Bool
	immunity sync.Map // namespace -> bool

	// regMu serializes Register so a schema runs once per access type.
	regMu sync.Mutex

	mu           sync.RWMutex
	started      bool
	db           *sql.DB
	engine       *Engine
	cfg          *config.Store
	placeholders map[string]string
	lenient      bool
	sensitive    codec.Predicate
	pending      []codec.TypeHandler
	registered   map[string]*registration
	order        []string
	statements   map[string]*statement
	aliases      map[string]reflect.Type
}

type registration struct {
	immune bool
	doc    *mapper.Document
}

type statement struct {
	id        string
	namespace string
	command   mapper.Command
	sql       string
	params    []mapper.Param
}

// Option configures a DataStore.
type Option func(*DataStore)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *DataStore) { s.log = l }
}

// WithCipher sets the cipher used by encrypting handlers.
func WithCipher(c *cipher.Service) Option {
	return func(s *DataStore) { s.cipher = c }
}

// WithHandlers adds type handlers registered at Start.
func WithHandlers(hs ...codec.TypeHandler) Option {
	return func(s *DataStore) { s.pending = append(s.pending, hs...) }
}

// WithIDGenerator replaces the UUIDv7 identity generator.
func WithIDGenerator(g entity.Generator) Option {
	return func(s *DataStore) { s.idGen = g }
}

// WithFallbackTypes sets the type registry serialized handlers retry with
// when their own registry cannot decode a value.
func WithFallbackTypes(r *codec.TypeRegistry) Option {
	return func(s *DataStore) { s.fallback = r }
}

// WithEngine adds an engine. It takes precedence over built-in engines with
// an overlapping prefix.
func WithEngine(e *Engine) Option {
	return func(s *DataStore) { s.engines = append([]*Engine{e}, s.engines...) }
}

// WithRegistry shares a handler registry between stores.
func WithRegistry(r *codec.Registry) Option {
	return func(s *DataStore) { s.handlers = r }
}

// New creates a stopped data store.
func New(name string, opts ...Option) *DataStore {
	s := &DataStore{
		name:     name,
		log:      zerolog.Nop(),
		handlers: codec.NewRegistry(),
		idGen:    entity.UUIDv7Generator{},
		engines:  builtinEngines(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cipher == nil {
		s.cipher = cipher.Default()
	}
	s.log = s.log.With().Str("store", name).Logger()
	return s
}

// Name returns the store name.
func (s *DataStore) Name() string {
	return s.name
}

// Start loads configuration from attrs and the environment, opens the pool,
// resolves DDL placeholders and registers the common type handlers.
func (s *DataStore) Start(ctx context.Context, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("data store %s already started", s.name)
	}

	cfg, err := config.LoadStore(s.name, attrs)
	if err != nil {
		return err
	}
	engine, err := selectEngine(s.engines, cfg.JDBCURL)
	if err != nil {
		return fmt.Errorf("data store %s: %w", s.name, err)
	}
	placeholders, lenient, err := resolvePlaceholders(engine.ID, cfg)
	if err != nil {
		return &SchemaError{Store: s.name, Message: "placeholder resolution failed", Err: err}
	}

	db, err := engine.Open(ctx, cfg, s.log)
	if err != nil {
		return &DataAccessError{Code: ErrCodeDataAccess, Message: "failed to open data store " + s.name, Err: err}
	}

	s.cfg = cfg
	s.sensitive = codec.SensitivePredicate(cfg.SensitiveFields)
	common := []codec.TypeHandler{
		codec.EntityID{Lenient: lenient},
		codec.Time{},
		codec.Bytes{},
	}
	for _, h := range append(common, s.pending...) {
		if err := s.registerHandlerLocked(h); err != nil {
			db.Close()
			return err
		}
	}
	if _, ok := s.handlers.ByName(codec.EncryptedStringName); !ok {
		if err := s.handlers.RegisterDetached(s.prepare(&codec.EncryptedString{})); err != nil {
			db.Close()
			return err
		}
	}

	s.db = db
	s.engine = engine
	s.placeholders = placeholders
	s.lenient = lenient
	s.pending = nil
	s.registered = make(map[string]*registration)
	s.order = nil
	s.statements = make(map[string]*statement)
	s.aliases = make(map[string]reflect.Type)
	s.started = true

	s.log.Info().
		Str("engine", engine.ID).
		Bool("lenient", lenient).
		Bool("generate_entity_ids", cfg.GenerateEntityIDs).
		Msg("data store started")
	return nil
}

// Stop closes the pool and forgets registered access types. A restarted
// store needs them registered again.
func (s *DataStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.registered = nil
	s.statements = nil
	s.order = nil
	s.immunity.Clear()

	err := s.db.Close()
	s.db = nil
	s.engine = nil
	s.log.Info().Msg("data store stopped")
	if err != nil {
		return &DataAccessError{Code: ErrCodeDataAccess, Message: "failed to close data store " + s.name, Err: err}
	}
	return nil
}

// RegisterHandler adds a type handler. Handlers added before Start are
// registered when the store starts.
func (s *DataStore) RegisterHandler(h codec.TypeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.pending = append(s.pending, h)
		return nil
	}
	return s.registerHandlerLocked(h)
}

func (s *DataStore) registerHandlerLocked(h codec.TypeHandler) error {
	if err := s.handlers.Register(s.prepare(h)); err != nil {
		return fmt.Errorf("data store %s: %w", s.name, err)
	}
	return nil
}

type fallbackAware interface {
	SetFallbackTypes(r *codec.TypeRegistry)
}

// prepare hands h the cipher, sensitive predicate and fallback types it can
// use. Requires s.sensitive to be set.
func (s *DataStore) prepare(h codec.TypeHandler) codec.TypeHandler {
	if c, ok := h.(codec.CipherAware); ok {
		c.SetCipher(s.cipher)
	}
	if sa, ok := h.(codec.SensitiveAware); ok {
		sa.EncryptSensitiveFields(s.sensitive)
	}
	if fa, ok := h.(fallbackAware); ok && s.fallback != nil {
		fa.SetFallbackTypes(s.fallback)
	}
	return h
}

// Register makes t usable in sessions: it registers t's expected types,
// expands and compiles its mapper and runs its schema in a session of its
// own. Registering the same type again is a no-op. Templates are skipped.
//
// Schema creation takes a pooled connection. The embedded engine pools a
// single connection by default, so a goroutine holding an open session must
// not call Register: it blocks until ctx is done.
func (s *DataStore) Register(ctx context.Context, t AccessType) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.register(ctx, t)
}

func (s *DataStore) register(ctx context.Context, t AccessType) error {
	spec := t.spec()
	if spec.abstract {
		s.log.Debug().Str("access_type", spec.name).Msg("skipping template registration")
		return nil
	}

	s.mu.RLock()
	started := s.started
	_, done := s.registered[spec.name]
	engine := s.engine
	vars := maps.Clone(s.placeholders)
	s.mu.RUnlock()

	if !started {
		return newError(ErrCodeNotStarted, "", "data store %s is not started", s.name)
	}
	if done {
		return nil
	}

	for _, dep := range spec.expects {
		if err := s.register(ctx, dep); err != nil {
			return err
		}
	}

	doc, err := s.document(spec, vars)
	if err != nil {
		return err
	}

	compiled := make(map[string]*statement, len(doc.Statements))
	for name, st := range doc.Statements {
		c, err := mapper.Compile(st.SQL, engine.Marker)
		if err != nil {
			return &SchemaError{Store: s.name, Message: "statement " + spec.name + "." + name, Err: err}
		}
		id := spec.name + "." + name
		compiled[id] = &statement{
			id:        id,
			namespace: spec.name,
			command:   st.Command,
			sql:       c.SQL,
			params:    c.Params,
		}
	}

	if err := s.createSchema(ctx, spec.name, doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return newError(ErrCodeNotStarted, "", "data store %s stopped during registration", s.name)
	}
	s.registered[spec.name] = &registration{immune: spec.immune, doc: doc}
	s.order = append(s.order, spec.name)
	maps.Copy(s.statements, compiled)
	if spec.model != nil {
		s.addAliasesLocked(spec.name, typeAliases(spec.model))
	}
	s.immunity.Delete(spec.name)

	s.log.Debug().
		Str("access_type", spec.name).
		Int("statements", len(compiled)).
		Bool("immune", spec.immune).
		Msg("access type registered")
	return nil
}

// document builds the expanded mapper document for spec.
func (s *DataStore) document(spec *accessSpec, vars map[string]string) (*mapper.Document, error) {
	var doc *mapper.Document
	if len(spec.mapper) > 0 {
		parsed, err := mapper.Parse(spec.mapper)
		if err != nil {
			return nil, &SchemaError{Store: s.name, Message: "mapper of " + spec.name, Err: err}
		}
		doc = parsed
	}

	if tpl := spec.template; tpl != nil {
		base, err := mapper.Parse(tpl.s.mapper)
		if err != nil {
			return nil, &SchemaError{Store: s.name, Message: "template " + tpl.s.name, Err: err}
		}
		prefix, ok := mapper.TemplatePrefix(spec.name, tpl.s.name)
		if !ok {
			return nil, &SchemaError{Store: s.name, Message: fmt.Sprintf("%s does not extend template %s", spec.name, tpl.s.name)}
		}
		vars[tpl.Placeholder] = strings.ToLower(prefix)
		if doc == nil {
			doc = base
		} else if doc, err = mapper.Merge(base, doc); err != nil {
			return nil, &SchemaError{Store: s.name, Message: "mapper of " + spec.name, Err: err}
		}
	}
	if doc == nil {
		return nil, &SchemaError{Store: s.name, Message: spec.name + " has no mapper"}
	}

	expanded, err := mapper.Expand(doc, vars)
	if err != nil {
		return nil, &SchemaError{Store: s.name, Message: "mapper of " + spec.name, Err: err}
	}
	return expanded, nil
}

// createSchema runs the DDL of doc in its own transaction. Nodes sharing a
// database may race to create the same objects, so failures are retried.
func (s *DataStore) createSchema(ctx context.Context, name string, doc *mapper.Document) error {
	ddl := append(append([]string(nil), doc.Schema...), doc.ExtendSchema...)
	if len(ddl) == 0 {
		return nil
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = s.runDDL(ctx, ddl); err == nil {
			return nil
		}
		if attempt == schemaAttempts {
			break
		}
		s.log.Warn().Err(err).Str("access_type", name).Int("attempt", attempt).Msg("schema creation failed, retrying")
		select {
		case <-ctx.Done():
			return translate(name, ctx.Err())
		case <-time.After(schemaBackoff):
		}
	}
	return translate(name, err)
}

func (s *DataStore) runDDL(ctx context.Context, ddl []string) error {
	db, err := s.pool()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return tx.Commit()
}

func (s *DataStore) addAliasesLocked(name string, found map[string][]reflect.Type) {
	for alias, types := range found {
		for _, t := range types {
			existing, ok := s.aliases[alias]
			if !ok {
				s.aliases[alias] = t
				continue
			}
			if existing != t {
				s.log.Debug().
					Str("access_type", name).
					Str("alias", alias).
					Str("type", t.String()).
					Str("existing", existing.String()).
					Msg("type alias already taken, skipping")
			}
		}
	}
}

// TypeAliases returns the simple type names gathered from registered access
// types, mapped to their full type names.
func (s *DataStore) TypeAliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.aliases))
	for alias, t := range s.aliases {
		out[alias] = t.String()
	}
	return out
}

// OpenSession starts a session at the default isolation level. A session
// holds a pooled connection until it is closed; with the embedded engine's
// default pool of one, a second OpenSession waits for the first to close or
// for ctx to be done.
func (s *DataStore) OpenSession(ctx context.Context) (*Session, error) {
	return s.OpenSessionWithIsolation(ctx, sql.LevelDefault)
}

// OpenSessionWithIsolation starts a session at the given isolation level.
func (s *DataStore) OpenSessionWithIsolation(ctx context.Context, level sql.IsolationLevel) (*Session, error) {
	s.mu.RLock()
	started, db, engine := s.started, s.db, s.engine
	s.mu.RUnlock()
	if !started {
		return nil, newError(ErrCodeNotStarted, "", "data store %s is not started", s.name)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return nil, translate("", err)
	}
	return &Session{store: s, engine: engine, tx: tx, accessors: make(map[string]any)}, nil
}

// OpenConnection returns a raw pooled connection for administrative work.
// The caller must close it.
func (s *DataStore) OpenConnection(ctx context.Context) (*sql.Conn, error) {
	db, err := s.pool()
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, translate("", err)
	}
	return conn, nil
}

// DB returns the pool. It is nil while the store is stopped.
func (s *DataStore) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *DataStore) pool() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, newError(ErrCodeNotStarted, "", "data store %s is not started", s.name)
	}
	return s.db, nil
}

// Freeze rejects mutating statements of non-immune access types until
// Unfreeze.
func (s *DataStore) Freeze() {
	if !s.frozen.Swap(true) {
		s.log.Info().Msg("data store frozen")
	}
}

// Unfreeze lifts Freeze.
func (s *DataStore) Unfreeze() {
	if s.frozen.Swap(false) {
		s.log.Info().Msg("data store unfrozen")
	}
}

// IsFrozen reports the frozen flag.
func (s *DataStore) IsFrozen() bool {
	return s.frozen.Load()
}

// EngineID returns the active engine id, "" while stopped.
func (s *DataStore) EngineID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return ""
	}
	return s.engine.ID
}

// Placeholders returns the resolved DDL placeholder types.
func (s *DataStore) Placeholders() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.placeholders)
}

// Lenient reports whether placeholder types came from configuration, which
// relaxes identity validation.
func (s *DataStore) Lenient() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenient
}

// Handlers returns the handler registry.
func (s *DataStore) Handlers() *codec.Registry {
	return s.handlers
}

// Backup copies the database to location. Only engines with a backup
// implementation support it.
func (s *DataStore) Backup(ctx context.Context, location string) error {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	conn, err := s.OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if engine.Backup == nil {
		return newError(ErrCodeUnsupported, "", "backup is not supported on %s", engine.ID)
	}
	if err := engine.Backup(ctx, conn, location); err != nil {
		return translate("", err)
	}
	s.log.Info().Str("location", location).Msg("data store backed up")
	return nil
}

// GenerateScript writes the expanded DDL of every registered access type, in
// registration order.
func (s *DataStore) GenerateScript(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return newError(ErrCodeNotStarted, "", "data store %s is not started", s.name)
	}
	for _, name := range s.order {
		if err := mapper.WriteScript(w, name, s.registered[name].doc); err != nil {
			return fmt.Errorf("failed to write script: %w", err)
		}
	}
	return nil
}

// AccessTypes returns the registered access type names in registration
// order.
func (s *DataStore) AccessTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *DataStore) isRegistered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registered[name]
	return ok
}

func (s *DataStore) lookupStatement(id string) (*statement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statements[id]
	return st, ok
}

func (s *DataStore) generateIDs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg != nil && s.cfg.GenerateEntityIDs
}

// immune reports whether the access type owning namespace is exempt from
// frozen mode. Unknown namespaces are not immune.
func (s *DataStore) immune(namespace string) bool {
	if v, ok := s.immunity.Load(namespace); ok {
		return v.(bool)
	}
	s.mu.RLock()
	reg, ok := s.registered[namespace]
	s.mu.RUnlock()

	immune := false
	if ok {
		immune = reg.immune
	} else {
		s.log.Debug().Str("access_type", namespace).Msg("unknown access type, treating as not immune")
	}
	s.immunity.Store(namespace, immune)
	return immune
}
