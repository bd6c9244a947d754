package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/models"
)

// Fake is an in-memory remote store for tests. It mimics the API's
// observable behavior: opaque ids, modifiedTime bumped on every mutation,
// 404-as-absent deletes, and injectable network outages.
type Fake struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	nextID  int

	// Offline simulates an unreachable network; every call fails with a
	// transport-level error.
	offline bool

	// Fail injects a per-operation error, keyed by the op names recorded
	// in Calls. Used to exercise the non-network failure paths.
	Fail map[string]error

	// Clock supplies modifiedTime values; defaults to time.Now.
	Clock func() time.Time

	// Calls records operation names in order, for assertions.
	Calls []string
}

type fakeObject struct {
	record  models.RemoteFileRecord
	content []byte
}

// NewFake creates an empty fake remote store.
func NewFake() *Fake {
	return &Fake{
		objects: make(map[string]*fakeObject),
		Clock:   time.Now,
	}
}

// SetOffline toggles simulated network failure.
func (f *Fake) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// SetModifiedTime overrides an object's modification time, for conflict
// scenarios.
func (f *Fake) SetModifiedTime(id string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[id]; ok {
		obj.record.ModifiedTime = t
	}
}

// Content returns an object's bytes, or nil when absent.
func (f *Fake) Content(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[id]; ok {
		return append([]byte(nil), obj.content...)
	}
	return nil
}

// Record returns an object's listing record.
func (f *Fake) Record(id string) (models.RemoteFileRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[id]; ok {
		return obj.record, true
	}
	return models.RemoteFileRecord{}, false
}

// Seed inserts an object directly, returning its id.
func (f *Fake) Seed(name, parentID string, content []byte, modified time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	f.objects[id] = &fakeObject{
		record: models.RemoteFileRecord{
			ID:           id,
			Name:         name,
			ModifiedTime: modified,
			MimeType:     "application/octet-stream",
		},
		content: append([]byte(nil), content...),
	}
	return id
}

func (f *Fake) allocID() string {
	f.nextID++
	return fmt.Sprintf("g-%d", f.nextID)
}

// check records the call and returns any injected failure. Offline calls
// never reach the server, so they are not recorded.
func (f *Fake) check(op string) error {
	if f.offline {
		return &models.RemoteOperationError{
			Op:  op,
			Err: &url.Error{Op: "Get", URL: "https://remote.invalid", Err: errors.New("connection refused")},
		}
	}
	f.Calls = append(f.Calls, op)
	if err := f.Fail[op]; err != nil {
		return err
	}
	return nil
}

// List returns all non-folder objects. The fake keeps a flat namespace, so
// parentID is ignored.
func (f *Fake) List(ctx context.Context, parentID string) ([]models.RemoteFileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list"); err != nil {
		return nil, err
	}

	var records []models.RemoteFileRecord
	for _, obj := range f.objects {
		records = append(records, obj.record)
	}
	return records, nil
}

// CreateFolder creates a folder object.
func (f *Fake) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("create_folder"); err != nil {
		return "", err
	}

	id := f.allocID()
	f.objects[id] = &fakeObject{
		record: models.RemoteFileRecord{
			ID:           id,
			Name:         name,
			ModifiedTime: f.Clock(),
			MimeType:     models.MimeFolder,
		},
	}
	return id, nil
}

// Create creates a file object with content.
func (f *Fake) Create(ctx context.Context, name, parentID string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("create"); err != nil {
		return "", err
	}

	id := f.allocID()
	f.objects[id] = &fakeObject{
		record: models.RemoteFileRecord{
			ID:           id,
			Name:         name,
			ModifiedTime: f.Clock(),
			MimeType:     "application/octet-stream",
		},
		content: append([]byte(nil), data...),
	}
	return id, nil
}

// ReplaceContent overwrites content and bumps modifiedTime.
func (f *Fake) ReplaceContent(ctx context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("replace"); err != nil {
		return err
	}

	obj, ok := f.objects[id]
	if !ok {
		return f.notFound("replace", id)
	}
	obj.content = append([]byte(nil), data...)
	obj.record.ModifiedTime = f.Clock()
	return nil
}

// Rename changes the object's name and bumps modifiedTime.
func (f *Fake) Rename(ctx context.Context, id, newName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("rename"); err != nil {
		return "", err
	}

	obj, ok := f.objects[id]
	if !ok {
		return "", f.notFound("rename", id)
	}
	obj.record.Name = newName
	obj.record.ModifiedTime = f.Clock()
	return id, nil
}

// Delete removes the object; absent ids report existed=false.
func (f *Fake) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete"); err != nil {
		return false, err
	}

	if _, ok := f.objects[id]; !ok {
		return false, nil
	}
	delete(f.objects, id)
	return true, nil
}

// GetContent returns the object's name and bytes.
func (f *Fake) GetContent(ctx context.Context, id string) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("get_content"); err != nil {
		return "", nil, err
	}

	obj, ok := f.objects[id]
	if !ok {
		return "", nil, f.notFound("get_content", id)
	}
	return obj.record.Name, append([]byte(nil), obj.content...), nil
}

// GetMetadata returns the object's record.
func (f *Fake) GetMetadata(ctx context.Context, id string) (models.RemoteFileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("get_metadata"); err != nil {
		return models.RemoteFileRecord{}, err
	}

	obj, ok := f.objects[id]
	if !ok {
		return models.RemoteFileRecord{}, f.notFound("get_metadata", id)
	}
	return obj.record, nil
}

// FindFolder locates a folder by name.
func (f *Fake) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("find_folder"); err != nil {
		return "", err
	}

	for id, obj := range f.objects {
		if obj.record.IsFolder() && obj.record.Name == name {
			return id, nil
		}
	}
	return "", fmt.Errorf("find folder %q: %w", name, models.ErrRemoteNotFound)
}

func (f *Fake) notFound(op, id string) error {
	return &models.RemoteOperationError{
		Op:         op + " " + id,
		StatusCode: 404,
		Err:        models.ErrRemoteNotFound,
	}
}
