package docstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/core/revision"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func write(t *testing.T, cur *Envelope, body string, expected revision.Revision, at time.Time) *Envelope {
	t.Helper()
	next, err := PrepareWrite(cur, "doc-1", json.RawMessage(body), expected, false, at)
	require.NoError(t, err)
	return next
}

func replicaOf(e *Envelope) Replica {
	return Replica{ID: e.ID, Leaf: e.Leaf}
}

func TestMerge_InsertAndIgnore(t *testing.T) {
	a := write(t, nil, `{"n":1}`, revision.Zero, t0)

	merged, outcome := Merge(nil, replicaOf(a))
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, a.Rev, merged.Rev)

	again, outcome := Merge(merged, replicaOf(a))
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Same(t, merged, again)
}

func TestMerge_FastForward(t *testing.T) {
	a1 := write(t, nil, `{"n":1}`, revision.Zero, t0)
	a2 := write(t, a1, `{"n":2}`, a1.Rev, t0.Add(time.Minute))

	merged, outcome := Merge(a1, replicaOf(a2))
	assert.Equal(t, OutcomeFastForward, outcome)
	assert.Equal(t, a2.Rev, merged.Rev)
	assert.Empty(t, merged.Conflicts)

	// An ancestor arriving late is already known.
	_, outcome = Merge(merged, replicaOf(a1))
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestMerge_ConflictHigherGenerationWins(t *testing.T) {
	base := write(t, nil, `{"n":0}`, revision.Zero, t0)
	local := write(t, base, `{"n":"local"}`, base.Rev, t0.Add(2*time.Minute))
	remote1 := write(t, base, `{"n":"remote"}`, base.Rev, t0.Add(time.Minute))
	remote2 := write(t, remote1, `{"n":"remote2"}`, remote1.Rev, t0.Add(time.Minute))

	merged, outcome := Merge(local, replicaOf(remote2))
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Equal(t, remote2.Rev, merged.Rev)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, local.Rev, merged.Conflicts[0].Rev)
	assert.True(t, merged.Knows(local.Rev))
}

func TestMerge_ConflictSameGenerationLaterUpdateWins(t *testing.T) {
	base := write(t, nil, `{"n":0}`, revision.Zero, t0)
	early := write(t, base, `{"n":"early"}`, base.Rev, t0.Add(time.Minute))
	late := write(t, base, `{"n":"late"}`, base.Rev, t0.Add(2*time.Minute))

	fromEarly, _ := Merge(early, replicaOf(late))
	fromLate, _ := Merge(late, replicaOf(early))

	assert.Equal(t, late.Rev, fromEarly.Rev)
	assert.Equal(t, late.Rev, fromLate.Rev, "both replicas converge on the same winner")
}

func TestMerge_LiveBeatsTombstone(t *testing.T) {
	base := write(t, nil, `{"n":0}`, revision.Zero, t0)
	removed, err := PrepareWrite(base, "doc-1", nil, base.Rev, true, t0.Add(time.Minute))
	require.NoError(t, err)
	edited := write(t, base, `{"n":1}`, base.Rev, t0)

	merged, outcome := Merge(removed, replicaOf(edited))
	assert.Equal(t, OutcomeConflict, outcome)
	assert.False(t, merged.Deleted)
	assert.Equal(t, edited.Rev, merged.Rev)
}

func TestMerge_ExtendingConflictLeafReplacesIt(t *testing.T) {
	base := write(t, nil, `{"n":0}`, revision.Zero, t0)
	a := write(t, base, `{"n":"a"}`, base.Rev, t0.Add(time.Minute))
	b := write(t, base, `{"n":"b"}`, base.Rev, t0.Add(2*time.Minute))

	merged, _ := Merge(a, replicaOf(b))
	require.Len(t, merged.Conflicts, 1)

	loser := &Envelope{ID: "doc-1", Leaf: merged.Conflicts[0]}
	a2 := write(t, loser, `{"n":"a2"}`, loser.Rev, t0.Add(3*time.Minute))

	merged, outcome := Merge(merged, replicaOf(a2))
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Equal(t, a2.Rev, merged.Rev)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, b.Rev, merged.Conflicts[0].Rev)
}

func TestPrepareWrite_Rules(t *testing.T) {
	doc := write(t, nil, `{"n":1}`, revision.Zero, t0)

	_, err := PrepareWrite(doc, "doc-1", json.RawMessage(`{}`), revision.Zero, false, t0)
	assert.ErrorIs(t, err, ErrConflict, "create over live document")

	_, err = PrepareWrite(doc, "doc-1", json.RawMessage(`{}`), "1-stale", false, t0)
	assert.ErrorIs(t, err, ErrConflict, "stale revision")

	_, err = PrepareWrite(nil, "doc-1", json.RawMessage(`{}`), "1-any", false, t0)
	assert.ErrorIs(t, err, ErrNotFound, "update of missing document")

	tomb, err := PrepareWrite(doc, "doc-1", nil, doc.Rev, true, t0)
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, 2, tomb.Rev.Generation())

	_, err = PrepareWrite(tomb, "doc-1", nil, tomb.Rev, true, t0)
	assert.ErrorIs(t, err, ErrNotFound, "remove of tombstone")

	recreated, err := PrepareWrite(tomb, "doc-1", json.RawMessage(`{"n":2}`), revision.Zero, false, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, recreated.Rev.Generation())
	assert.Equal(t, t0.Add(time.Hour), recreated.CreatedAt)
}
