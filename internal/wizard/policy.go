package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

type PhotoStore interface {
	UploadPhoto(ctx context.Context, name string, data []byte) (string, error)
	DeletePhoto(ctx context.Context, name string) error
}

// PhotoEvidencePolicy decides when picked photos reach the blob store.
type PhotoEvidencePolicy interface {
	Name() string
	Select(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey, file PendingFile) error
	Remove(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey) error
	// Finalize runs first during submission and leaves every slot's URL in
	// st.Photos.
	Finalize(ctx context.Context, st *State) error
}

const (
	PolicyImmediate = "immediate"
	PolicyDeferred  = "deferred"
)

func NewPolicy(name string, store PhotoStore, clock func() time.Time) (PhotoEvidencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyImmediate:
		return NewImmediateUpload(store, clock), nil
	case PolicyDeferred:
		return NewDeferredUpload(store, clock), nil
	default:
		return nil, fmt.Errorf("unknown photo policy %q", name)
	}
}

// ImmediateUpload stores each photo as soon as it is picked.
type ImmediateUpload struct {
	store PhotoStore
	clock func() time.Time
}

func NewImmediateUpload(store PhotoStore, clock func() time.Time) *ImmediateUpload {
	if clock == nil {
		clock = time.Now
	}
	return &ImmediateUpload{store: store, clock: clock}
}

func (p *ImmediateUpload) Name() string { return PolicyImmediate }

func (p *ImmediateUpload) Select(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey, file PendingFile) error {
	if len(file.Data) == 0 {
		return ErrEmptyFile
	}
	name := survey.ObjectName(st.SubjectID, kind, slot, p.clock(), file.Name)
	url, err := p.store.UploadPhoto(ctx, name, file.Data)
	if err != nil {
		return fmt.Errorf("upload %s photo for %s: %w", kind, slot, err)
	}
	st.setPhoto(kind, slot, url)
	return nil
}

func (p *ImmediateUpload) Remove(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey) error {
	url := st.PhotoURL(kind, slot)
	if url == "" {
		return nil
	}
	if err := p.store.DeletePhoto(ctx, survey.ObjectNameFromURL(url)); err != nil {
		return fmt.Errorf("delete %s photo for %s: %w", kind, slot, err)
	}
	delete(st.Photos[kind], slot)
	return nil
}

func (p *ImmediateUpload) Finalize(context.Context, *State) error { return nil }

// DeferredUpload keeps picked photos in the draft and uploads them all on
// submission.
type DeferredUpload struct {
	store PhotoStore
	clock func() time.Time
}

func NewDeferredUpload(store PhotoStore, clock func() time.Time) *DeferredUpload {
	if clock == nil {
		clock = time.Now
	}
	return &DeferredUpload{store: store, clock: clock}
}

func (p *DeferredUpload) Name() string { return PolicyDeferred }

func (p *DeferredUpload) Select(_ context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey, file PendingFile) error {
	if len(file.Data) == 0 {
		return ErrEmptyFile
	}
	data := make([]byte, len(file.Data))
	copy(data, file.Data)
	st.setPending(kind, slot, PendingFile{Name: file.Name, Data: data})
	return nil
}

// Remove drops a pending file. Without one, the slot's persisted URL is
// unlinked from the draft; the blob itself is left in place.
func (p *DeferredUpload) Remove(_ context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey) error {
	if st.HasPending(kind, slot) {
		delete(st.Pending[kind], slot)
		return nil
	}
	delete(st.Photos[kind], slot)
	return nil
}

// Finalize uploads pending files slot by slot. A slot that uploaded before a
// failure keeps its URL and leaves the pending set, so a retry skips it.
func (p *DeferredUpload) Finalize(ctx context.Context, st *State) error {
	for _, kind := range survey.EvidenceKinds {
		for _, slot := range survey.AllSlots() {
			file, ok := st.Pending[kind][slot]
			if !ok {
				continue
			}
			name := survey.ObjectName(st.SubjectID, kind, slot, p.clock(), file.Name)
			url, err := p.store.UploadPhoto(ctx, name, file.Data)
			if err != nil {
				return fmt.Errorf("upload %s photo for %s: %w", kind, slot, err)
			}
			st.setPhoto(kind, slot, url)
			delete(st.Pending[kind], slot)
		}
	}
	return nil
}
