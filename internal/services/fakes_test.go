package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pothole-detector/apiserver/internal/store"
	"github.com/pothole-detector/apiserver/types"
)

func some[T any](v T) types.Optional[T] {
	return types.Optional[T]{Present: true, Value: v}
}

func null[T any]() types.Optional[T] {
	return types.Optional[T]{Present: true, Null: true}
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]types.User
	// createErrs are returned by successive Create calls before falling back
	// to normal behaviour.
	createErrs []error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]types.User{}}
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return types.User{}, err
	}
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	for id, existing := range r.users {
		if id != user.ID && existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

type fakeReportRepo struct {
	mu        sync.Mutex
	reports   []types.Report
	listErr   error
	createErr error
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{}
}

func (r *fakeReportRepo) Create(_ context.Context, report types.Report) (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return types.Report{}, r.createErr
	}
	report.ID = uuid.NewString()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	r.reports = append(r.reports, report)
	return report, nil
}

func (r *fakeReportRepo) GetForUser(_ context.Context, id, userID string) (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, report := range r.reports {
		if report.ID == id && report.UserID == userID {
			return report, nil
		}
	}
	return types.Report{}, store.ErrNotFound
}

func (r *fakeReportRepo) ListByUser(_ context.Context, userID string, limit int) ([]types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := []types.Report{}
	for _, report := range r.reports {
		if report.UserID == userID {
			out = append(out, report)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeReportRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	reports, err := r.ListByUser(ctx, userID, 0)
	return len(reports), err
}

func (r *fakeReportRepo) seed(userID string, confidence float64, createdAt time.Time) types.Report {
	report, _ := r.Create(context.Background(), types.Report{
		UserID:                    userID,
		ImageURL:                  fmt.Sprintf("http://blob/%s.jpg", uuid.NewString()),
		DetectionResultPercentage: confidence,
		CreatedAt:                 createdAt,
	})
	return report
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if b.err != nil {
		return b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	delete(b.types, key)
	return nil
}

func (b *fakeBlobStore) URL(key string) string {
	return "http://blob/" + key
}

type fakePublisher struct {
	published chan types.Report
	err       error
	panic     bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan types.Report, 4)}
}

func (p *fakePublisher) Publish(ctx context.Context, report types.Report) error {
	if p.panic {
		panic("publisher exploded")
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("share context has no deadline")
	}
	p.published <- report
	return p.err
}

// jpegBytes is a minimal payload that sniffs as image/jpeg.
var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

// pngBytes is a minimal payload that sniffs as image/png.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}
