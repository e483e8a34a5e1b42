package provider

import (
	"context"
	"sync"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Fake is an in-memory Mail implementation for tests. It records every call
// and keeps a label map so archive/restore round-trips can be asserted.
type Fake struct {
	mu sync.Mutex

	// LabelsByID is the current label set per message id.
	LabelsByID map[string]map[string]bool
	// metaByID holds full metadata for messages seeded with SetMeta.
	metaByID map[string]*MessageMeta
	// Calls records call descriptions in order.
	Calls []FakeCall
	// FailBatchModify makes BatchModify return the given error once set.
	FailBatchModify error
	// Deleted collects permanently deleted message ids.
	Deleted []string
	// TrashCount is the number of messages PurgeTrash reports.
	TrashCount int
}

// FakeCall is one recorded provider invocation.
type FakeCall struct {
	Op     string
	IDs    []string
	Add    []string
	Remove []string
}

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{LabelsByID: make(map[string]map[string]bool)}
}

// SetLabels seeds the label set for a message.
func (f *Fake) SetLabels(id string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	f.LabelsByID[id] = set
}

// SetMeta seeds full metadata for a message, registering its labels too.
func (f *Fake) SetMeta(meta *MessageMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaByID == nil {
		f.metaByID = make(map[string]*MessageMeta)
	}
	f.metaByID[meta.ID] = meta
	set := make(map[string]bool, len(meta.Labels))
	for _, l := range meta.Labels {
		set[l] = true
	}
	f.LabelsByID[meta.ID] = set
}

// Labels returns the current label set for a message, sorted by insertion.
func (f *Fake) Labels(id string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.LabelsByID[id]))
	for l := range f.LabelsByID[id] {
		out[l] = true
	}
	return out
}

// CallCount returns how many calls of the given op were recorded.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) apply(ids, add, remove []string) {
	for _, id := range ids {
		set := f.LabelsByID[id]
		if set == nil {
			set = make(map[string]bool)
			f.LabelsByID[id] = set
		}
		for _, l := range add {
			set[l] = true
		}
		for _, l := range remove {
			delete(set, l)
		}
	}
}

func (f *Fake) BatchModify(_ context.Context, ids, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Op: "batch_modify", IDs: ids, Add: add, Remove: remove})
	if f.FailBatchModify != nil {
		return f.FailBatchModify
	}
	f.apply(ids, add, remove)
	return nil
}

func (f *Fake) Modify(_ context.Context, id string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Op: "modify", IDs: []string{id}, Add: add, Remove: remove})
	f.apply([]string{id}, add, remove)
	return nil
}

func (f *Fake) Trash(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Op: "trash", IDs: ids})
	f.apply(ids, []string{LabelTrash}, []string{LabelInbox})
	return nil
}

func (f *Fake) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Op: "delete", IDs: ids})
	f.Deleted = append(f.Deleted, ids...)
	for _, id := range ids {
		delete(f.LabelsByID, id)
	}
	return nil
}

func (f *Fake) PurgeTrash(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Op: "purge_trash"})
	n := f.TrashCount
	f.TrashCount = 0
	return n, nil
}

func (f *Fake) GetMetadata(_ context.Context, id string) (*MessageMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.LabelsByID[id]; !ok {
		return nil, model.NotFoundf("message %s", id)
	}
	meta := &MessageMeta{ID: id}
	if m := f.metaByID[id]; m != nil {
		copied := *m
		meta = &copied
	}
	meta.Labels = nil
	for l := range f.LabelsByID[id] {
		meta.Labels = append(meta.Labels, l)
	}
	return meta, nil
}

func (f *Fake) ListIDs(_ context.Context, _ string, _ int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.LabelsByID {
		ids = append(ids, id)
	}
	return ids, nil
}

// FakeOpener hands the same Fake to every user.
type FakeOpener struct{ Mail *Fake }

// Open implements Opener.
func (o *FakeOpener) Open(_ context.Context, _ string) (Mail, error) {
	return o.Mail, nil
}
