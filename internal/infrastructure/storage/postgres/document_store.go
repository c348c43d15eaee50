package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"poscore/internal/core/docstore"
	"poscore/internal/core/revision"
)

const documentsTable = "documents"
const checkpointsTable = "replication_checkpoints"

var documentColumns = []string{
	"collection", "id", "rev", "deleted", "body", "history", "conflicts", "seq", "created_at", "updated_at",
}

var _ docstore.Store = (*DocumentStore)(nil)

// DocumentStore is a docstore.Store backed by a single documents table.
type DocumentStore struct {
	txm         *TxManager
	collections map[string]*Collection
	names       []string
	now         func() time.Time
}

// NewDocumentStore creates a store serving the named collections.
func NewDocumentStore(txm *TxManager, names []string) *DocumentStore {
	s := &DocumentStore{
		txm:         txm,
		collections: make(map[string]*Collection, len(names)),
		names:       append([]string(nil), names...),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, name := range names {
		s.collections[name] = &Collection{store: s, name: name}
	}
	return s
}

// Collection returns the named collection.
func (s *DocumentStore) Collection(name string) (docstore.Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, name)
	}
	return c, nil
}

// Collections returns the served collection names.
func (s *DocumentStore) Collections() []string {
	return append([]string(nil), s.names...)
}

// Close is a no-op; the pool is owned by the caller.
func (s *DocumentStore) Close() error {
	return nil
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// documentRow mirrors one row of the documents table.
type documentRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	Rev        string    `db:"rev"`
	Deleted    bool      `db:"deleted"`
	Body       []byte    `db:"body"`
	History    []byte    `db:"history"`
	Conflicts  []byte    `db:"conflicts"`
	Seq        int64     `db:"seq"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *documentRow) envelope() (*docstore.Envelope, error) {
	env := &docstore.Envelope{
		ID: r.ID,
		Leaf: docstore.Leaf{
			Rev:       revision.Revision(r.Rev),
			Deleted:   r.Deleted,
			Body:      r.Body,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		},
		Seq: r.Seq,
	}
	if len(r.History) > 0 {
		if err := json.Unmarshal(r.History, &env.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", r.ID, err)
		}
	}
	if len(r.Conflicts) > 0 {
		if err := json.Unmarshal(r.Conflicts, &env.Conflicts); err != nil {
			return nil, fmt.Errorf("decode conflicts of %s: %w", r.ID, err)
		}
	}
	return env, nil
}

func encodeAncestry(env *docstore.Envelope) (history, conflicts []byte, err error) {
	h := env.History
	if h == nil {
		h = []revision.Revision{}
	}
	c := env.Conflicts
	if c == nil {
		c = []docstore.Leaf{}
	}
	if history, err = json.Marshal(h); err != nil {
		return nil, nil, err
	}
	if conflicts, err = json.Marshal(c); err != nil {
		return nil, nil, err
	}
	return history, conflicts, nil
}

// nullableBody keeps tombstones as SQL NULL rather than JSON null.
func nullableBody(body json.RawMessage) any {
	if len(body) == 0 {
		return nil
	}
	return []byte(body)
}

// --- query builders ---

func selectDocumentQuery(collection, id string, forUpdate bool) squirrel.SelectBuilder {
	q := builder().
		Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection, "id": id})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	return q
}

func selectDocumentsQuery(collection string, ids []string) squirrel.SelectBuilder {
	return builder().
		Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection, "id": ids})
}

func listLiveQuery(collection string) squirrel.SelectBuilder {
	return builder().
		Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection, "deleted": false})
}

func changesQuery(collection string, since int64, limit int) squirrel.SelectBuilder {
	q := builder().
		Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection}).
		Where(squirrel.Gt{"seq": since}).
		OrderBy("seq")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func insertDocumentQuery(collection string, env *docstore.Envelope, history, conflicts []byte) squirrel.InsertBuilder {
	return builder().
		Insert(documentsTable).
		Columns(documentColumns...).
		Values(
			collection, env.ID, string(env.Rev), env.Deleted, nullableBody(env.Body), history, conflicts,
			squirrel.Expr("nextval('document_seq')"), env.CreatedAt, env.UpdatedAt,
		).
		Suffix("ON CONFLICT (collection, id) DO NOTHING RETURNING seq")
}

func updateDocumentQuery(collection string, env *docstore.Envelope, prevRev revision.Revision, history, conflicts []byte) squirrel.UpdateBuilder {
	return builder().
		Update(documentsTable).
		Set("rev", string(env.Rev)).
		Set("deleted", env.Deleted).
		Set("body", nullableBody(env.Body)).
		Set("history", history).
		Set("conflicts", conflicts).
		Set("seq", squirrel.Expr("nextval('document_seq')")).
		Set("created_at", env.CreatedAt).
		Set("updated_at", env.UpdatedAt).
		Where(squirrel.Eq{"collection": collection, "id": env.ID, "rev": string(prevRev)}).
		Suffix("RETURNING seq")
}

// lockFeedQuery serializes writers of one collection until commit, so
// seq values become visible in the order they were taken and a change
// feed reader never skips a row committed behind its checkpoint.
func lockFeedQuery(collection string) squirrel.SelectBuilder {
	return builder().
		Select().
		Column(squirrel.Expr("pg_advisory_xact_lock(hashtext(?))", "document_seq:"+collection))
}

func selectCheckpointQuery(collection, key string) squirrel.SelectBuilder {
	return builder().
		Select("seq").
		From(checkpointsTable).
		Where(squirrel.Eq{"collection": collection, "key": key})
}

func upsertCheckpointQuery(collection, key string, seq int64) squirrel.InsertBuilder {
	return builder().
		Insert(checkpointsTable).
		Columns("collection", "key", "seq").
		Values(collection, key, seq).
		Suffix("ON CONFLICT (collection, key) DO UPDATE SET seq = EXCLUDED.seq")
}

// Collection is one named collection of a DocumentStore.
type Collection struct {
	docstore.Notifier

	store *DocumentStore
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "docstore."+op, trace.WithAttributes(attribute.String("collection", c.name)))
}

// lockFeed must run first in every writing transaction, before any row lock.
func (c *Collection) lockFeed(ctx context.Context) error {
	sql, args, err := lockFeedQuery(c.name).ToSql()
	if err != nil {
		return fmt.Errorf("build feed lock: %w", err)
	}
	if _, err := c.store.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("lock %s feed: %w", c.name, err)
	}
	return nil
}

func (c *Collection) load(ctx context.Context, id string, forUpdate bool) (*docstore.Envelope, error) {
	sql, args, err := selectDocumentQuery(c.name, id, forUpdate).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row documentRow
	if err := pgxscan.Get(ctx, c.store.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("select %s/%s: %w", c.name, id, err)
	}
	return row.envelope()
}

func (c *Collection) selectMany(ctx context.Context, q squirrel.SelectBuilder) ([]*docstore.Envelope, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []documentRow
	if err := pgxscan.Select(ctx, c.store.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", c.name, err)
	}

	out := make([]*docstore.Envelope, 0, len(rows))
	for i := range rows {
		env, err := rows[i].envelope()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// save persists next as the successor of prev. A concurrent writer makes it fail with ErrConflict.
func (c *Collection) save(ctx context.Context, prev, next *docstore.Envelope) error {
	history, conflicts, err := encodeAncestry(next)
	if err != nil {
		return fmt.Errorf("encode ancestry: %w", err)
	}

	var sqlizer squirrel.Sqlizer
	if prev == nil {
		sqlizer = insertDocumentQuery(c.name, next, history, conflicts)
	} else {
		sqlizer = updateDocumentQuery(c.name, next, prev.Rev, history, conflicts)
	}
	sql, args, err := sqlizer.ToSql()
	if err != nil {
		return fmt.Errorf("build write: %w", err)
	}

	if err := c.store.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&next.Seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("write %s/%s: %w", c.name, next.ID, docstore.ErrConflict)
		}
		return fmt.Errorf("write %s/%s: %w", c.name, next.ID, err)
	}
	return nil
}

// Get returns the live document with id.
func (c *Collection) Get(ctx context.Context, id string) (*docstore.Envelope, error) {
	ctx, span := c.startSpan(ctx, "get")
	defer span.End()

	env, err := c.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Deleted {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, docstore.ErrNotFound)
	}
	return env, nil
}

// Put creates or updates a document.
func (c *Collection) Put(ctx context.Context, id string, body json.RawMessage, expected revision.Revision) (*docstore.Envelope, error) {
	return c.write(ctx, id, body, expected, false)
}

// Remove writes a tombstone.
func (c *Collection) Remove(ctx context.Context, id string, expected revision.Revision) (*docstore.Envelope, error) {
	return c.write(ctx, id, nil, expected, true)
}

func (c *Collection) write(ctx context.Context, id string, body json.RawMessage, expected revision.Revision, deleted bool) (*docstore.Envelope, error) {
	ctx, span := c.startSpan(ctx, "write")
	defer span.End()

	var result *docstore.Envelope
	err := c.store.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := c.lockFeed(ctx); err != nil {
			return err
		}
		prev, err := c.load(ctx, id, true)
		if err != nil {
			return err
		}
		next, err := docstore.PrepareWrite(prev, id, body, expected, deleted, c.store.now())
		if err != nil {
			return err
		}
		if err := c.save(ctx, prev, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Broadcast()
	return result, nil
}

// ListAll returns every live document.
func (c *Collection) ListAll(ctx context.Context) ([]*docstore.Envelope, error) {
	ctx, span := c.startSpan(ctx, "list")
	defer span.End()
	return c.selectMany(ctx, listLiveQuery(c.name))
}

// Changes returns the documents changed after since, oldest first.
func (c *Collection) Changes(ctx context.Context, since int64, limit int) ([]docstore.Change, int64, error) {
	ctx, span := c.startSpan(ctx, "changes")
	defer span.End()

	docs, err := c.selectMany(ctx, changesQuery(c.name, since, limit))
	if err != nil {
		return nil, since, err
	}

	last := since
	out := make([]docstore.Change, 0, len(docs))
	for _, doc := range docs {
		revs := make([]revision.Revision, 0, 1+len(doc.Conflicts))
		for _, l := range doc.Leaves() {
			revs = append(revs, l.Rev)
		}
		out = append(out, docstore.Change{Seq: doc.Seq, ID: doc.ID, Revs: revs, Deleted: doc.Deleted})
		last = doc.Seq
	}
	return out, last, nil
}

func (c *Collection) loadMany(ctx context.Context, revs map[string][]revision.Revision) (map[string]*docstore.Envelope, error) {
	if len(revs) == 0 {
		return map[string]*docstore.Envelope{}, nil
	}
	ids := make([]string, 0, len(revs))
	for id := range revs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs, err := c.selectMany(ctx, selectDocumentsQuery(c.name, ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*docstore.Envelope, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	return byID, nil
}

// RevsDiff returns the revisions not known to this collection.
func (c *Collection) RevsDiff(ctx context.Context, revs map[string][]revision.Revision) (map[string][]revision.Revision, error) {
	ctx, span := c.startSpan(ctx, "revs_diff")
	defer span.End()

	byID, err := c.loadMany(ctx, revs)
	if err != nil {
		return nil, err
	}

	missing := make(map[string][]revision.Revision)
	for id, candidates := range revs {
		doc := byID[id]
		for _, rev := range candidates {
			if doc == nil || !doc.Knows(rev) {
				missing[id] = append(missing[id], rev)
			}
		}
	}
	return missing, nil
}

// Revisions loads the requested leaves.
func (c *Collection) Revisions(ctx context.Context, revs map[string][]revision.Revision) ([]docstore.Replica, error) {
	ctx, span := c.startSpan(ctx, "revisions")
	defer span.End()

	byID, err := c.loadMany(ctx, revs)
	if err != nil {
		return nil, err
	}

	out := make([]docstore.Replica, 0, len(revs))
	for id, wanted := range revs {
		doc := byID[id]
		if doc == nil {
			continue
		}
		for _, leaf := range doc.Leaves() {
			for _, rev := range wanted {
				if leaf.Rev == rev {
					out = append(out, docstore.Replica{ID: id, Leaf: leaf})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BulkReplicate merges foreign leaves in a single transaction.
func (c *Collection) BulkReplicate(ctx context.Context, replicas []docstore.Replica) (int, error) {
	ctx, span := c.startSpan(ctx, "bulk_replicate")
	defer span.End()

	written := 0
	err := c.store.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := c.lockFeed(ctx); err != nil {
			return err
		}
		for _, r := range replicas {
			if !r.Rev.Valid() {
				return fmt.Errorf("replicate %s/%s: invalid revision %q", c.name, r.ID, r.Rev)
			}
			prev, err := c.load(ctx, r.ID, true)
			if err != nil {
				return err
			}
			next, outcome := docstore.Merge(prev, r)
			if outcome == docstore.OutcomeIgnored {
				continue
			}
			if err := c.save(ctx, prev, next); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("written", written))
	return written, nil
}

// Checkpoint returns the stored checkpoint for key, 0 if unset.
func (c *Collection) Checkpoint(ctx context.Context, key string) (int64, error) {
	sql, args, err := selectCheckpointQuery(c.name, key).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build checkpoint select: %w", err)
	}

	var seq int64
	if err := c.store.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select checkpoint %s/%s: %w", c.name, key, err)
	}
	return seq, nil
}

// SetCheckpoint stores a checkpoint.
func (c *Collection) SetCheckpoint(ctx context.Context, key string, seq int64) error {
	sql, args, err := upsertCheckpointQuery(c.name, key, seq).ToSql()
	if err != nil {
		return fmt.Errorf("build checkpoint upsert: %w", err)
	}
	if _, err := c.store.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", c.name, key, err)
	}
	return nil
}
