package localvcs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/steveyegge/versync/internal/conflict"
)

// Entry is one document handed to Snapshot or returned in a Delta.
type Entry struct {
	Key     string
	Name    string
	Content []byte
}

// StateEntry is one document of a snapshot, by blob id.
type StateEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Blob string `json:"blob"`
}

// Snapshot is one recorded state of a project.
type Snapshot struct {
	ID      string       `json:"id"`
	Parents []string     `json:"parents,omitempty"`
	Created time.Time    `json:"created"`
	Author  string       `json:"author"`
	Message string       `json:"message"`
	State   []StateEntry `json:"state"`
}

// Delta is what a caller must apply to its documents to move from one
// snapshot to another.
type Delta struct {
	Upserts []Entry
	Removes []string
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.Upserts) == 0 && len(d.Removes) == 0
}

// ApplyFunc writes a delta to the caller's documents. Checkout and Merge
// call it before moving the head or a branch tip, and move nothing when it
// fails. A nil ApplyFunc applies nothing.
type ApplyFunc func(ctx context.Context, d Delta) error

func (f ApplyFunc) apply(ctx context.Context, d Delta) error {
	if f == nil || d.Empty() {
		return nil
	}
	return f(ctx, d)
}

type branch struct {
	Name     string    `json:"name"`
	Tip      string    `json:"tip,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

type headRef struct {
	Branch string `json:"branch"`
}

// Project is the version history of one workspace. Operations run one at a
// time; a merge waiting on its conflict channel holds the project until the
// resolver answers.
type Project struct {
	store     *Store
	meta      ProjectMeta
	conflicts *conflict.Channel

	mu sync.Mutex
}

func (p *Project) ID() string     { return p.meta.ID }
func (p *Project) RootID() string { return p.meta.RootID }
func (p *Project) Name() string   { return p.meta.Name }

// Conflicts returns the project's conflict channel.
func (p *Project) Conflicts() *conflict.Channel { return p.conflicts }

// BlobID returns the content address of data.
func BlobID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (p *Project) blobKey(id string) string {
	return projectKey(p.meta.ID, "blobs", id[:2], id[2:])
}

// Blob returns the content stored under id.
func (p *Project) Blob(ctx context.Context, id string) ([]byte, error) {
	if len(id) < 3 {
		return nil, fmt.Errorf("%w: blob %q", ErrKeyNotFound, id)
	}
	return p.store.driver.Get(ctx, p.blobKey(id))
}

func (p *Project) putBlob(ctx context.Context, data []byte) (string, error) {
	id := BlobID(data)
	key := p.blobKey(id)
	ok, err := p.store.driver.Has(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	return id, p.store.driver.Put(ctx, key, data)
}

// ===================
// Branches
// ===================

func validBranchName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func (p *Project) branchKey(name string) string {
	return projectKey(p.meta.ID, "branches", name+".json")
}

func (p *Project) branch(ctx context.Context, name string) (branch, error) {
	var b branch
	if err := p.store.getJSON(ctx, p.branchKey(name), &b); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return b, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
		}
		return b, err
	}
	return b, nil
}

func (p *Project) currentBranch(ctx context.Context) (string, error) {
	var h headRef
	if err := p.store.getJSON(ctx, projectKey(p.meta.ID, "head.json"), &h); err != nil {
		return "", err
	}
	return h.Branch, nil
}

// CurrentBranch returns the checked-out branch.
func (p *Project) CurrentBranch(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentBranch(ctx)
}

// Branches lists branch names, sorted.
func (p *Project) Branches(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := p.store.driver.List(ctx, projectKey(p.meta.ID, "branches"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if name, ok := strings.CutSuffix(f, ".json"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Fork creates branch name at the tip of the current branch.
func (p *Project) Fork(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !validBranchName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if ok, err := p.store.driver.Has(ctx, p.branchKey(name)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}

	current, err := p.currentBranch(ctx)
	if err != nil {
		return err
	}
	from, err := p.branch(ctx, current)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return p.store.putJSON(ctx, p.branchKey(name), branch{Name: name, Tip: from.Tip, Created: now, Modified: now})
}

// Checkout switches to branch name and returns the delta from the old tip
// to the new one. The head stays put when apply fails.
func (p *Project) Checkout(ctx context.Context, name string, apply ApplyFunc) (Delta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.currentBranch(ctx)
	if err != nil {
		return Delta{}, err
	}
	from, err := p.branch(ctx, current)
	if err != nil {
		return Delta{}, err
	}
	to, err := p.branch(ctx, name)
	if err != nil {
		return Delta{}, err
	}

	delta, err := p.diff(ctx, from.Tip, to.Tip)
	if err != nil {
		return Delta{}, err
	}
	if err := apply.apply(ctx, delta); err != nil {
		return Delta{}, err
	}
	if err := p.store.putJSON(ctx, projectKey(p.meta.ID, "head.json"), headRef{Branch: name}); err != nil {
		return Delta{}, err
	}
	return delta, nil
}

// ===================
// Snapshots
// ===================

func (p *Project) snapshotKey(id string) string {
	return projectKey(p.meta.ID, "snapshots", id+".json")
}

func (p *Project) snapshot(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, nil
	}
	var s Snapshot
	if err := p.store.getJSON(ctx, p.snapshotKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Snapshot records entries as the new tip of the current branch.
func (p *Project) Snapshot(ctx context.Context, message, author string, entries []Entry) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.currentBranch(ctx)
	if err != nil {
		return nil, err
	}
	b, err := p.branch(ctx, current)
	if err != nil {
		return nil, err
	}

	state := make([]StateEntry, 0, len(entries))
	for _, e := range entries {
		id, err := p.putBlob(ctx, e.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", e.Key, err)
		}
		state = append(state, StateEntry{Key: e.Key, Name: e.Name, Blob: id})
	}
	sortState(state)

	if tip, err := p.snapshot(ctx, b.Tip); err != nil {
		return nil, err
	} else if tip != nil && sameState(tip.State, state) {
		return nil, ErrNoChanges
	}

	var parents []string
	if b.Tip != "" {
		parents = []string{b.Tip}
	}
	return p.record(ctx, b, &Snapshot{
		Parents: parents,
		Created: time.Now().UTC(),
		Author:  author,
		Message: message,
		State:   state,
	})
}

// record stores s, content-addressing its id, and advances b to it.
func (p *Project) record(ctx context.Context, b branch, s *Snapshot) (*Snapshot, error) {
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	s.ID = BlobID(data)
	if err := p.store.putJSON(ctx, p.snapshotKey(s.ID), s); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	b.Tip = s.ID
	b.Modified = s.Created
	if err := p.store.putJSON(ctx, p.branchKey(b.Name), b); err != nil {
		return nil, fmt.Errorf("failed to advance %s: %w", b.Name, err)
	}
	return s, nil
}

// History returns up to limit snapshots of the current branch, newest
// first, following first parents. A non-positive limit returns everything.
func (p *Project) History(ctx context.Context, limit int) ([]Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.currentBranch(ctx)
	if err != nil {
		return nil, err
	}
	b, err := p.branch(ctx, current)
	if err != nil {
		return nil, err
	}

	out := []Snapshot{}
	for id := b.Tip; id != "" && (limit <= 0 || len(out) < limit); {
		s, err := p.snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
		id = ""
		if len(s.Parents) > 0 {
			id = s.Parents[0]
		}
	}
	return out, nil
}

func sortState(state []StateEntry) {
	sort.Slice(state, func(i, j int) bool { return state[i].Key < state[j].Key })
}

func sameState(a, b []StateEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stateMap(s *Snapshot) map[string]StateEntry {
	out := map[string]StateEntry{}
	if s == nil {
		return out
	}
	for _, e := range s.State {
		out[e.Key] = e
	}
	return out
}

func blobMap(m map[string]StateEntry) map[string]string {
	out := make(map[string]string, len(m))
	for k, e := range m {
		out[k] = e.Blob
	}
	return out
}

// diff computes the delta between two snapshots by id. Empty ids are the
// empty state.
func (p *Project) diff(ctx context.Context, fromID, toID string) (Delta, error) {
	from, err := p.snapshot(ctx, fromID)
	if err != nil {
		return Delta{}, err
	}
	to, err := p.snapshot(ctx, toID)
	if err != nil {
		return Delta{}, err
	}
	return p.delta(ctx, stateMap(from), stateMap(to))
}

func (p *Project) delta(ctx context.Context, from, to map[string]StateEntry) (Delta, error) {
	var d Delta
	keys := make([]string, 0, len(from)+len(to))
	for k := range from {
		keys = append(keys, k)
	}
	for k := range to {
		if _, ok := from[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, inFrom := from[k]
		t, inTo := to[k]
		switch {
		case !inTo:
			d.Removes = append(d.Removes, k)
		case !inFrom || f.Blob != t.Blob:
			content, err := p.Blob(ctx, t.Blob)
			if err != nil {
				return Delta{}, err
			}
			d.Upserts = append(d.Upserts, Entry{Key: k, Name: t.Name, Content: content})
		}
	}
	return d, nil
}

// ===================
// Merging
// ===================

// MergeResult is the outcome of merging another branch into the current one.
type MergeResult struct {
	// Snapshot is the new tip, nil when already up to date.
	Snapshot *Snapshot

	// Delta moves the caller's documents from the old tip to the new one.
	Delta Delta
}

// Merge merges branch other into the current branch. Conflicts are handed
// to the project's conflict channel; cancellation leaves the project
// untouched and returns conflict.ErrResolutionCancelled. The merged delta is
// passed to apply before the branch tip moves; when apply fails the tip
// stays where it was.
func (p *Project) Merge(ctx context.Context, other, author string, apply ApplyFunc) (MergeResult, error) {
	if p.conflicts.Busy() {
		return MergeResult{}, conflict.ErrMergeConflictPending
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.currentBranch(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	ours, err := p.branch(ctx, current)
	if err != nil {
		return MergeResult{}, err
	}
	theirs, err := p.branch(ctx, other)
	if err != nil {
		return MergeResult{}, err
	}

	if theirs.Tip == "" || theirs.Tip == ours.Tip {
		return MergeResult{}, nil
	}
	base, err := p.mergeBase(ctx, ours.Tip, theirs.Tip)
	if err != nil {
		return MergeResult{}, err
	}
	if base == theirs.Tip {
		return MergeResult{}, nil
	}

	oursSnap, err := p.snapshot(ctx, ours.Tip)
	if err != nil {
		return MergeResult{}, err
	}
	theirsSnap, err := p.snapshot(ctx, theirs.Tip)
	if err != nil {
		return MergeResult{}, err
	}
	oursState, theirsState := stateMap(oursSnap), stateMap(theirsSnap)

	// Fast-forward.
	if base == ours.Tip {
		delta, err := p.delta(ctx, oursState, theirsState)
		if err != nil {
			return MergeResult{}, err
		}
		if err := apply.apply(ctx, delta); err != nil {
			return MergeResult{}, err
		}
		ours.Tip = theirs.Tip
		ours.Modified = time.Now().UTC()
		if err := p.store.putJSON(ctx, p.branchKey(ours.Name), ours); err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Snapshot: theirsSnap, Delta: delta}, nil
	}

	baseSnap, err := p.snapshot(ctx, base)
	if err != nil {
		return MergeResult{}, err
	}
	baseState := stateMap(baseSnap)

	changes, keys := conflict.ThreeWay(blobMap(baseState), blobMap(oursState), blobMap(theirsState))
	merged := make(map[string]StateEntry, len(oursState))
	for k, e := range oursState {
		merged[k] = e
	}
	for _, c := range changes {
		if c.Blob == "" {
			delete(merged, c.Key)
		} else {
			merged[c.Key] = theirsState[c.Key]
		}
	}

	if len(keys) > 0 {
		requested, err := p.describe(ctx, keys, baseState, oursState, theirsState)
		if err != nil {
			return MergeResult{}, err
		}
		resolved, err := p.conflicts.Request(ctx, requested)
		if err != nil {
			return MergeResult{}, err
		}
		for _, c := range resolved {
			side := oursState
			if c.Resolution == conflict.TakeTheirs {
				side = theirsState
			}
			if e, ok := side[c.Key]; ok {
				merged[c.Key] = e
			} else {
				delete(merged, c.Key)
			}
		}
	}

	state := make([]StateEntry, 0, len(merged))
	for _, e := range merged {
		state = append(state, e)
	}
	sortState(state)

	delta, err := p.delta(ctx, oursState, merged)
	if err != nil {
		return MergeResult{}, err
	}
	if err := apply.apply(ctx, delta); err != nil {
		return MergeResult{}, err
	}
	snap, err := p.record(ctx, ours, &Snapshot{
		Parents: []string{ours.Tip, theirs.Tip},
		Created: time.Now().UTC(),
		Author:  author,
		Message: fmt.Sprintf("Merged branch %s", other),
		State:   state,
	})
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Snapshot: snap, Delta: delta}, nil
}

func (p *Project) describe(ctx context.Context, keys []string, base, ours, theirs map[string]StateEntry) ([]conflict.MergeConflict, error) {
	out := make([]conflict.MergeConflict, 0, len(keys))
	for _, k := range keys {
		c := conflict.MergeConflict{Key: k, Name: k}
		for _, side := range []struct {
			entries map[string]StateEntry
			content *[]byte
			blob    *string
		}{
			{base, &c.Base, nil},
			{ours, &c.Ours, &c.OursBlob},
			{theirs, &c.Theirs, &c.TheirsBlob},
		} {
			e, ok := side.entries[k]
			if !ok {
				continue
			}
			if e.Name != "" {
				c.Name = e.Name
			}
			data, err := p.Blob(ctx, e.Blob)
			if err != nil {
				return nil, err
			}
			*side.content = data
			if side.blob != nil {
				*side.blob = e.Blob
			}
		}
		switch {
		case c.Ours == nil:
			c.Message = "deleted locally, modified on the other branch"
		case c.Theirs == nil:
			c.Message = "modified locally, deleted on the other branch"
		default:
			c.Message = "modified on both branches"
		}
		out = append(out, c)
	}
	return out, nil
}

// mergeBase returns the nearest common ancestor of a and b, or "" when the
// histories are unrelated.
func (p *Project) mergeBase(ctx context.Context, a, b string) (string, error) {
	ancestors := map[string]bool{}
	queue := []string{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == "" || ancestors[id] {
			continue
		}
		ancestors[id] = true
		s, err := p.snapshot(ctx, id)
		if err != nil {
			return "", err
		}
		queue = append(queue, s.Parents...)
	}

	seen := map[string]bool{}
	queue = []string{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == "" || seen[id] {
			continue
		}
		if ancestors[id] {
			return id, nil
		}
		seen[id] = true
		s, err := p.snapshot(ctx, id)
		if err != nil {
			return "", err
		}
		queue = append(queue, s.Parents...)
	}
	return "", nil
}
