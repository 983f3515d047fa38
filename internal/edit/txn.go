package edit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Coordinator applies multi-file edit batches transactionally: snapshot,
// write-ahead log, apply, and on any failure restore every touched file.
// It also owns the in-memory undo/redo history. All edits in the process
// serialize behind one mutex; commit timestamps are therefore monotonic.
type Coordinator struct {
	fs     afero.Fs
	root   string
	store  *store.Store
	logger *slog.Logger
	depth  int

	editMu sync.Mutex
	undo   []historyEntry
	redo   []historyEntry

	now func() time.Time
}

// historyEntry ties a committed transaction to the writes that invert it.
type historyEntry struct {
	ID      string
	Inverse []InverseEdit
}

// Snapshot is one file's pre-transaction state, recorded in the WAL.
type Snapshot struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Hash    string `json:"hash"`
	Existed bool   `json:"existed"`
}

// InverseEdit is one write that undoes a transaction's effect on a file.
type InverseEdit struct {
	Path    string `json:"path"`
	Op      string `json:"op"` // write | delete
	Content []byte `json:"content,omitempty"`
}

type txnPayload struct {
	Files     []string      `json:"files"`
	Snapshots []Snapshot    `json:"snapshots"`
	Inverse   []InverseEdit `json:"inverse_edits"`
}

// ApplyOptions modify one ApplyBatch call.
type ApplyOptions struct {
	DryRun bool
	// PreCommit runs after every new file state is computed but before any
	// byte is written; an error aborts the whole batch. The router hangs
	// the require_low_risk impact gate here.
	PreCommit func(files []string, editCount int) error
}

// FileChange describes one file's outcome within a batch.
type FileChange struct {
	Path    string `json:"path"`
	Action  string `json:"action"` // created | modified | deleted
	Diff    string `json:"diff,omitempty"`
	OldHash string `json:"old_hash,omitempty"`
	NewHash string `json:"new_hash,omitempty"`
}

// ApplyResult is the outcome of a committed (or previewed) batch.
type ApplyResult struct {
	TransactionID string       `json:"transaction_id"`
	DryRun        bool         `json:"dry_run"`
	Changes       []FileChange `json:"changes"`
}

// NewCoordinator creates the transaction coordinator. fs is the filesystem
// edits go through (afero.NewOsFs in production, a MemMapFs in tests);
// undoDepth bounds both history stacks.
func NewCoordinator(fs afero.Fs, root string, s *store.Store, undoDepth int, logger *slog.Logger) *Coordinator {
	if undoDepth <= 0 {
		undoDepth = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		fs:     fs,
		root:   root,
		store:  s,
		logger: logger,
		depth:  undoDepth,
		now:    time.Now,
	}
}

// fileState tracks one file's planned transition through a batch.
type fileState struct {
	rel      string
	abs      string
	snapshot Snapshot
	newBytes []byte
	deleted  bool
	created  bool
}

// ApplyBatch runs the transaction protocol over the supplied edits.
// On failure every file is restored to its pre-call bytes and the WAL
// entry (when one was written) ends in rolled_back.
func (c *Coordinator) ApplyBatch(ctx context.Context, edits []Edit, opts ApplyOptions) (*ApplyResult, error) {
	if len(edits) == 0 {
		return nil, fmt.Errorf("%w: edits", ErrMissingParameter)
	}

	c.editMu.Lock()
	defer c.editMu.Unlock()

	txnID := uuid.NewString()

	// Dry runs never touch the WAL: a pending entry with no state
	// transition would poison recovery. Real batches log pending before
	// any file is opened and fill snapshots in as planning proceeds.
	if !opts.DryRun {
		if err := c.appendWAL(ctx, txnID, txnPayload{}); err != nil {
			return nil, err
		}
	}

	states, order, err := c.plan(edits)
	if err != nil {
		if !opts.DryRun {
			c.setState(ctx, txnID, store.TxRolledBack)
		}
		return nil, err
	}

	changes := buildChanges(states, order)

	if opts.DryRun {
		return &ApplyResult{TransactionID: txnID, DryRun: true, Changes: changes}, nil
	}

	payload := txnPayload{}
	for _, rel := range order {
		st := states[rel]
		payload.Files = append(payload.Files, rel)
		payload.Snapshots = append(payload.Snapshots, st.snapshot)
		payload.Inverse = append(payload.Inverse, inverseFor(st))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.setState(ctx, txnID, store.TxRolledBack)
		return nil, err
	}
	if err := c.store.UpdateTransactionPayload(ctx, txnID, string(data)); err != nil {
		c.setState(ctx, txnID, store.TxRolledBack)
		return nil, err
	}

	if opts.PreCommit != nil {
		if err := opts.PreCommit(order, len(edits)); err != nil {
			c.setState(ctx, txnID, store.TxRolledBack)
			return nil, err
		}
	}

	if err := c.writeAll(ctx, states, order); err != nil {
		c.setState(ctx, txnID, store.TxRolledBack)
		return nil, err
	}

	c.setState(ctx, txnID, store.TxCommitted)

	c.pushUndo(historyEntry{ID: txnID, Inverse: payload.Inverse})
	c.redo = nil

	return &ApplyResult{TransactionID: txnID, Changes: changes}, nil
}

// plan computes every file's new state in memory. Nothing is written.
func (c *Coordinator) plan(edits []Edit) (map[string]*fileState, []string, error) {
	states := make(map[string]*fileState)
	var order []string

	for _, ed := range edits {
		if ed.File == "" {
			return nil, nil, fmt.Errorf("%w: file", ErrMissingParameter)
		}

		st, ok := states[ed.File]
		if !ok {
			abs, rel, err := c.validatePath(ed.File)
			if err != nil {
				return nil, nil, err
			}
			snap, err := c.snapshot(rel, abs)
			if err != nil {
				return nil, nil, err
			}
			st = &fileState{rel: rel, abs: abs, snapshot: snap, newBytes: snap.Content, deleted: !snap.Existed}
			states[ed.File] = st
			order = append(order, ed.File)
		}

		if err := c.applyEdit(st, ed); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", ed.File, err)
		}
	}

	return states, order, nil
}

func (c *Coordinator) applyEdit(st *fileState, ed Edit) error {
	currentHash := hashBytes(st.newBytes)

	switch ed.Operation {
	case OpCreate:
		if !st.deleted {
			return ErrFileExists
		}
		st.newBytes = []byte(ed.ReplacementString)
		st.deleted = false
		st.created = !st.snapshot.Existed
		return nil

	case OpDelete:
		if st.deleted {
			return ErrFileNotFound
		}
		if err := checkDeleteSafety(ed, st.newBytes, currentHash); err != nil {
			return err
		}
		st.newBytes = nil
		st.deleted = true
		return nil

	case OpReplace:
		if st.deleted {
			return ErrFileNotFound
		}
		if ed.ExpectedHash != "" && ed.ExpectedHash != currentHash {
			return ErrHashMismatch
		}
		out, err := applyToText(string(st.newBytes), ed)
		if err != nil {
			return err
		}
		st.newBytes = []byte(out)
		return nil

	default:
		return fmt.Errorf("unknown operation %q", ed.Operation)
	}
}

// writeAll flushes every planned state in caller order, restoring written
// files if any write fails.
func (c *Coordinator) writeAll(ctx context.Context, states map[string]*fileState, order []string) error {
	var written []*fileState
	for _, key := range order {
		st := states[key]
		var err error
		if st.deleted {
			err = c.fs.Remove(st.abs)
		} else {
			if mkErr := c.fs.MkdirAll(filepath.Dir(st.abs), 0o755); mkErr != nil {
				err = mkErr
			} else {
				err = afero.WriteFile(c.fs, st.abs, st.newBytes, 0o644)
			}
		}
		if err != nil {
			c.restore(written)
			return fmt.Errorf("write %s: %w", st.rel, err)
		}
		written = append(written, st)
	}
	return nil
}

func (c *Coordinator) restore(written []*fileState) {
	for _, st := range written {
		if err := c.restoreSnapshot(st.snapshot, st.abs); err != nil {
			c.logger.Error("rollback restore failed", "path", st.rel, "error", err)
		}
	}
}

func (c *Coordinator) restoreSnapshot(snap Snapshot, abs string) error {
	if !snap.Existed {
		err := c.fs.Remove(abs)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// Restoring already-restored bytes is a no-op by hash.
	if cur, err := afero.ReadFile(c.fs, abs); err == nil && hashBytes(cur) == snap.Hash {
		return nil
	}
	if err := c.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(c.fs, abs, snap.Content, 0o644)
}

// Undo pops the most recent forward transaction and applies its inverse as
// a new committed transaction; the redo stack gains the way back.
func (c *Coordinator) Undo(ctx context.Context) (*ApplyResult, error) {
	c.editMu.Lock()
	defer c.editMu.Unlock()

	if len(c.undo) == 0 {
		return nil, fmt.Errorf("nothing to undo")
	}
	entry := c.undo[len(c.undo)-1]

	res, back, err := c.applyWrites(ctx, entry.Inverse)
	if err != nil {
		return nil, fmt.Errorf("undo %s: %w", entry.ID, err)
	}

	c.undo = c.undo[:len(c.undo)-1]
	c.redo = bounded(append(c.redo, historyEntry{ID: res.TransactionID, Inverse: back}), c.depth)
	return res, nil
}

// Redo reapplies the most recently undone transaction.
func (c *Coordinator) Redo(ctx context.Context) (*ApplyResult, error) {
	c.editMu.Lock()
	defer c.editMu.Unlock()

	if len(c.redo) == 0 {
		return nil, fmt.Errorf("nothing to redo")
	}
	entry := c.redo[len(c.redo)-1]

	res, back, err := c.applyWrites(ctx, entry.Inverse)
	if err != nil {
		return nil, fmt.Errorf("redo %s: %w", entry.ID, err)
	}

	c.redo = c.redo[:len(c.redo)-1]
	c.undo = bounded(append(c.undo, historyEntry{ID: res.TransactionID, Inverse: back}), c.depth)
	return res, nil
}

// applyWrites runs a list of direct writes through the same WAL protocol
// as a forward batch and returns the writes that would invert them.
func (c *Coordinator) applyWrites(ctx context.Context, writes []InverseEdit) (*ApplyResult, []InverseEdit, error) {
	states := make(map[string]*fileState)
	var order []string

	for _, w := range writes {
		abs, rel, err := c.validatePath(w.Path)
		if err != nil {
			return nil, nil, err
		}
		snap, err := c.snapshot(rel, abs)
		if err != nil {
			return nil, nil, err
		}
		st := &fileState{rel: rel, abs: abs, snapshot: snap}
		if w.Op == "delete" {
			st.deleted = true
		} else {
			st.newBytes = w.Content
			st.created = !snap.Existed
		}
		states[w.Path] = st
		order = append(order, w.Path)
	}

	txnID := uuid.NewString()
	payload := txnPayload{}
	var back []InverseEdit
	for _, key := range order {
		st := states[key]
		payload.Files = append(payload.Files, st.rel)
		payload.Snapshots = append(payload.Snapshots, st.snapshot)
		inv := inverseFor(st)
		payload.Inverse = append(payload.Inverse, inv)
		back = append(back, inv)
	}

	if err := c.appendWAL(ctx, txnID, payload); err != nil {
		return nil, nil, err
	}
	if err := c.writeAll(ctx, states, order); err != nil {
		c.setState(ctx, txnID, store.TxRolledBack)
		return nil, nil, err
	}
	c.setState(ctx, txnID, store.TxCommitted)

	return &ApplyResult{TransactionID: txnID, Changes: buildChanges(states, order)}, back, nil
}

// Recover rolls back every transaction the WAL still holds in pending
// state; it must complete before the process accepts commands. Restores
// are idempotent, so re-running a crashed recovery is safe.
func (c *Coordinator) Recover(ctx context.Context) error {
	pending, err := c.store.PendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}

	for _, t := range pending {
		var payload txnPayload
		if err := json.Unmarshal([]byte(t.Payload), &payload); err != nil {
			return fmt.Errorf("decode transaction %s: %w", t.ID, err)
		}
		for _, snap := range payload.Snapshots {
			abs, _, err := c.validatePath(snap.Path)
			if err != nil {
				return fmt.Errorf("recover %s: %w", t.ID, err)
			}
			if err := c.restoreSnapshot(snap, abs); err != nil {
				return fmt.Errorf("recover %s: restore %s: %w", t.ID, snap.Path, err)
			}
		}
		if err := c.store.SetTransactionState(ctx, t.ID, store.TxRolledBack, 0); err != nil {
			return err
		}
		c.logger.Info("rolled back interrupted transaction", "id", t.ID, "files", len(payload.Snapshots))
	}
	return nil
}

// UndoDepth and RedoDepth report the live stack sizes for status output.
func (c *Coordinator) UndoDepth() int {
	c.editMu.Lock()
	defer c.editMu.Unlock()
	return len(c.undo)
}

func (c *Coordinator) RedoDepth() int {
	c.editMu.Lock()
	defer c.editMu.Unlock()
	return len(c.redo)
}

func (c *Coordinator) snapshot(rel, abs string) (Snapshot, error) {
	content, err := afero.ReadFile(c.fs, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Path: rel, Existed: false}, nil
		}
		return Snapshot{}, err
	}
	return Snapshot{Path: rel, Content: content, Hash: hashBytes(content), Existed: true}, nil
}

// validatePath resolves a caller-supplied path against the project root
// and rejects anything that escapes it, following symlinks in the
// on-disk ancestry when the real filesystem is in play.
func (c *Coordinator) validatePath(file string) (abs, rel string, err error) {
	cleaned := filepath.Clean(filepath.FromSlash(file))
	if filepath.IsAbs(cleaned) {
		abs = cleaned
	} else {
		abs = filepath.Join(c.root, cleaned)
	}

	rootWithSep := strings.TrimSuffix(c.root, string(filepath.Separator)) + string(filepath.Separator)
	if abs != c.root && !strings.HasPrefix(abs, rootWithSep) {
		return "", "", fmt.Errorf("%w: %s", ErrSecurityViolation, file)
	}

	if _, isOS := c.fs.(*afero.OsFs); isOS {
		if resolved, rerr := resolveExisting(abs); rerr == nil {
			if resolved != c.root && !strings.HasPrefix(resolved, rootWithSep) {
				return "", "", fmt.Errorf("%w: %s resolves outside the project", ErrSecurityViolation, file)
			}
		}
	}

	relPath, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrSecurityViolation, file)
	}
	return abs, filepath.ToSlash(relPath), nil
}

// resolveExisting evaluates symlinks over the longest existing ancestor of
// path, then rejoins the missing tail.
func resolveExisting(path string) (string, error) {
	probe := path
	var tail []string
	for {
		if _, err := os.Lstat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		tail = append([]string{filepath.Base(probe)}, tail...)
		probe = parent
	}
	resolved, err := filepath.EvalSymlinks(probe)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, tail...)...), nil
}

func (c *Coordinator) appendWAL(ctx context.Context, txnID string, payload txnPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.store.AppendTransaction(ctx, store.TransactionRecord{
		ID:        txnID,
		State:     store.TxPending,
		CreatedAt: c.now().UnixMilli(),
		Payload:   string(data),
	})
}

func (c *Coordinator) setState(ctx context.Context, txnID string, state store.TransactionState) {
	if err := c.store.SetTransactionState(ctx, txnID, state, c.now().UnixMilli()); err != nil {
		c.logger.Error("transaction state update failed", "id", txnID, "state", state, "error", err)
	}
}

func (c *Coordinator) pushUndo(e historyEntry) {
	c.undo = bounded(append(c.undo, e), c.depth)
}

func bounded(stack []historyEntry, depth int) []historyEntry {
	if len(stack) > depth {
		return stack[len(stack)-depth:]
	}
	return stack
}

func inverseFor(st *fileState) InverseEdit {
	if !st.snapshot.Existed {
		return InverseEdit{Path: st.rel, Op: "delete"}
	}
	return InverseEdit{Path: st.rel, Op: "write", Content: st.snapshot.Content}
}

func buildChanges(states map[string]*fileState, order []string) []FileChange {
	var out []FileChange
	for _, key := range order {
		st := states[key]
		ch := FileChange{Path: st.rel}
		switch {
		case st.deleted:
			ch.Action = "deleted"
			ch.OldHash = st.snapshot.Hash
		case st.created:
			ch.Action = "created"
			ch.NewHash = hashBytes(st.newBytes)
			ch.Diff = Diff(st.rel, "", string(st.newBytes))
		default:
			ch.Action = "modified"
			ch.OldHash = st.snapshot.Hash
			ch.NewHash = hashBytes(st.newBytes)
			ch.Diff = Diff(st.rel, string(st.snapshot.Content), string(st.newBytes))
		}
		out = append(out, ch)
	}
	return out
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
