package edit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

const testRoot = "/proj"

func newTestCoordinator(t *testing.T) (*Coordinator, afero.Fs, *store.Store) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testRoot, 0o755))
	return NewCoordinator(fs, testRoot, s, 50, nil), fs, s
}

func writeFS(t *testing.T, fs afero.Fs, rel, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, testRoot+"/"+rel, []byte(content), 0o644))
}

func readFS(t *testing.T, fs afero.Fs, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, testRoot+"/"+rel)
	require.NoError(t, err)
	return string(data)
}

func TestApplyBatch_SingleReplace(t *testing.T) {
	c, fs, s := newTestCoordinator(t)
	writeFS(t, fs, "a.txt", "hello")
	ctx := context.Background()

	res, err := c.ApplyBatch(ctx, []Edit{{
		File: "a.txt", Operation: OpReplace, TargetString: "hello", ReplacementString: "HELLO",
	}}, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", readFS(t, fs, "a.txt"))

	txn, ok, err := s.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TxCommitted, txn.State)
}

// S3: the second edit's anchor is missing, so the whole batch rolls back
// and the WAL entry ends rolled_back.
func TestApplyBatch_RollbackOnFailure(t *testing.T) {
	c, fs, s := newTestCoordinator(t)
	writeFS(t, fs, "a.txt", "hello")
	writeFS(t, fs, "b.txt", "world")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{
		{File: "a.txt", Operation: OpReplace, TargetString: "hello", ReplacementString: "HELLO"},
		{File: "b.txt", Operation: OpReplace, TargetString: "WORLD", ReplacementString: "x"},
	}, ApplyOptions{})
	require.ErrorIs(t, err, ErrNoMatch)

	assert.Equal(t, "hello", readFS(t, fs, "a.txt"))
	assert.Equal(t, "world", readFS(t, fs, "b.txt"))

	// The WAL entry for the failed batch ended in rolled_back; nothing is
	// left pending for recovery.
	pending, err := s.PendingTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	counts, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Transactions)
}

// S4: replace, undo, redo lands on the post-edit content with both stacks
// empty.
func TestUndoRedo(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "foo")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{
		File: "f.txt", Operation: OpReplace, TargetString: "foo", ReplacementString: "bar",
	}}, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "bar", readFS(t, fs, "f.txt"))

	_, err = c.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "foo", readFS(t, fs, "f.txt"))
	assert.Equal(t, 0, c.UndoDepth())
	assert.Equal(t, 1, c.RedoDepth())

	_, err = c.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bar", readFS(t, fs, "f.txt"))
	assert.Equal(t, 1, c.UndoDepth())
	assert.Equal(t, 0, c.RedoDepth())
}

func TestUndo_InverseLaw(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "one\ntwo\nthree\n")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{
		{File: "f.txt", Operation: OpReplace, TargetString: "two", ReplacementString: "TWO"},
		{File: "g.txt", Operation: OpCreate, ReplacementString: "fresh\n"},
	}, ApplyOptions{})
	require.NoError(t, err)

	_, err = c.Undo(ctx)
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo\nthree\n", readFS(t, fs, "f.txt"))
	_, err = fs.Stat(testRoot + "/g.txt")
	assert.True(t, err != nil, "created file must be gone after undo")
}

func TestApplyBatch_NewForwardEditClearsRedo(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "a")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{File: "f.txt", Operation: OpReplace, TargetString: "a", ReplacementString: "b"}}, ApplyOptions{})
	require.NoError(t, err)
	_, err = c.Undo(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, c.RedoDepth())

	_, err = c.ApplyBatch(ctx, []Edit{{File: "f.txt", Operation: OpReplace, TargetString: "a", ReplacementString: "c"}}, ApplyOptions{})
	require.NoError(t, err)
	assert.Zero(t, c.RedoDepth())
}

// S5 at the batch level: an ambiguous target modifies nothing.
func TestApplyBatch_AmbiguousLeavesBytesUntouched(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "x=1\nx=1\n")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{
		File: "f.txt", Operation: OpReplace, TargetString: "x=1", ReplacementString: "x=2",
	}}, ApplyOptions{})
	amb, ok := IsAmbiguous(err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, amb.Lines)
	assert.Equal(t, "x=1\nx=1\n", readFS(t, fs, "f.txt"))
}

func TestApplyBatch_DryRunWritesNothing(t *testing.T) {
	c, fs, s := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "foo")
	ctx := context.Background()

	res, err := c.ApplyBatch(ctx, []Edit{{
		File: "f.txt", Operation: OpReplace, TargetString: "foo", ReplacementString: "bar",
	}}, ApplyOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Changes, 1)
	assert.Contains(t, res.Changes[0].Diff, "-foo")
	assert.Contains(t, res.Changes[0].Diff, "+bar")

	assert.Equal(t, "foo", readFS(t, fs, "f.txt"))
	_, ok, err := s.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.False(t, ok, "dry run must not touch the WAL")
}

func TestApplyBatch_ExpectedHashGate(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "foo")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{
		File: "f.txt", Operation: OpReplace, TargetString: "foo", ReplacementString: "bar",
		ExpectedHash: "deadbeef",
	}}, ApplyOptions{})
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.Equal(t, "foo", readFS(t, fs, "f.txt"))
}

func TestApplyBatch_CreateAndDelete(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{File: "new/dir/f.txt", Operation: OpCreate, ReplacementString: "content\n"}}, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "content\n", readFS(t, fs, "new/dir/f.txt"))

	_, err = c.ApplyBatch(ctx, []Edit{{File: "new/dir/f.txt", Operation: OpCreate, ReplacementString: "again"}}, ApplyOptions{})
	assert.ErrorIs(t, err, ErrFileExists)

	_, err = c.ApplyBatch(ctx, []Edit{{File: "new/dir/f.txt", Operation: OpDelete}}, ApplyOptions{})
	require.NoError(t, err)
	_, statErr := fs.Stat(testRoot + "/new/dir/f.txt")
	assert.Error(t, statErr)
}

func TestApplyBatch_SecurityViolation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.ApplyBatch(context.Background(), []Edit{{
		File: "../outside.txt", Operation: OpCreate, ReplacementString: "x",
	}}, ApplyOptions{})
	assert.ErrorIs(t, err, ErrSecurityViolation)
}

func TestApplyBatch_PreCommitAborts(t *testing.T) {
	c, fs, s := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "foo")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{{
		File: "f.txt", Operation: OpReplace, TargetString: "foo", ReplacementString: "bar",
	}}, ApplyOptions{PreCommit: func(files []string, editCount int) error {
		return assert.AnError
	}})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "foo", readFS(t, fs, "f.txt"))

	// The aborted transaction is recorded as rolled back.
	pending, err := s.PendingTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecover_RestoresPendingSnapshots(t *testing.T) {
	c, fs, s := newTestCoordinator(t)
	ctx := context.Background()

	// Simulate a crash: half-applied bytes on disk, WAL entry still
	// pending with the original snapshot.
	writeFS(t, fs, "f.txt", "halfway garbage")
	payload, err := json.Marshal(txnPayload{
		Files:     []string{"f.txt"},
		Snapshots: []Snapshot{{Path: "f.txt", Content: []byte("original"), Hash: hashBytes([]byte("original")), Existed: true}},
		Inverse:   []InverseEdit{{Path: "f.txt", Op: "write", Content: []byte("original")}},
	})
	require.NoError(t, err)
	require.NoError(t, s.AppendTransaction(ctx, store.TransactionRecord{
		ID: "crashed", State: store.TxPending, CreatedAt: 1, Payload: string(payload),
	}))

	require.NoError(t, c.Recover(ctx))
	assert.Equal(t, "original", readFS(t, fs, "f.txt"))

	txn, ok, err := s.GetTransaction(ctx, "crashed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TxRolledBack, txn.State)

	// Idempotent on a second run.
	require.NoError(t, c.Recover(ctx))
	assert.Equal(t, "original", readFS(t, fs, "f.txt"))
}

func TestApplyBatch_MultipleEditsSameFile(t *testing.T) {
	c, fs, _ := newTestCoordinator(t)
	writeFS(t, fs, "f.txt", "one two three")
	ctx := context.Background()

	_, err := c.ApplyBatch(ctx, []Edit{
		{File: "f.txt", Operation: OpReplace, TargetString: "one", ReplacementString: "1"},
		{File: "f.txt", Operation: OpReplace, TargetString: "three", ReplacementString: "3"},
	}, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1 two 3", readFS(t, fs, "f.txt"))
}
