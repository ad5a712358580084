package profile

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
)

// Store reads and writes the profile index and item files. Every operation
// reloads the index, so several processes see each other's changes.
type Store struct {
	mu        sync.Mutex
	indexPath string
	dir       string
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for index warnings and provisioning.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open returns a store over indexPath and dir. Nothing is created until the
// first write.
func Open(indexPath, dir string, opts ...Option) *Store {
	s := &Store{indexPath: indexPath, dir: dir, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexPath returns the index file location.
func (s *Store) IndexPath() string { return s.indexPath }

// Dir returns the item file directory.
func (s *Store) Dir() string { return s.dir }

// List returns every item in index order.
func (s *Store) List() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return nil, err
	}
	return x.Items, nil
}

// Chain returns the items that take part in the chain, in chain order. UIDs
// in the chain without a matching item are skipped.
func (s *Store) Chain() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(x.Chain))
	for _, uid := range x.Chain {
		if i := x.find(uid); i >= 0 {
			out = append(out, x.Items[i])
		} else {
			s.log.Warn("Chain references unknown profile", logfields.Profile(uid))
		}
	}
	return out, nil
}

// Get returns the item with uid.
func (s *Store) Get(uid string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return Item{}, err
	}
	i := x.find(uid)
	if i < 0 {
		return Item{}, notFound(uid)
	}
	return x.Items[i], nil
}

// Read returns the source of item.
func (s *Store) Read(item Item) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, item.File))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NotFoundError("profile file missing").
				WithContext("uid", item.UID).
				WithContext("file", item.File).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read profile file").
			WithContext("uid", item.UID).
			Build()
	}
	return data, nil
}

// Append stores a new item with its source and adds it to the end of the
// chain. A missing UID is generated. The stored item is returned.
func (s *Store) Append(item Item, content []byte) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return Item{}, err
	}
	item, err = s.insert(x, item, content)
	if err != nil {
		return Item{}, err
	}
	x.Chain = append(x.Chain, item.UID)
	if err := s.save(x); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Update replaces the source of an existing item.
func (s *Store) Update(uid string, content []byte) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return Item{}, err
	}
	i := x.find(uid)
	if i < 0 {
		return Item{}, notFound(uid)
	}
	if err := s.writeFile(x.Items[i].File, content); err != nil {
		return Item{}, err
	}
	x.Items[i].Updated = s.now().Unix()
	if err := s.save(x); err != nil {
		return Item{}, err
	}
	return x.Items[i], nil
}

// Remove deletes an item and its source file. The implicit items cannot be removed.
func (s *Store) Remove(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return err
	}
	i := x.find(uid)
	if i < 0 {
		return notFound(uid)
	}
	item := x.Items[i]
	if item.Implicit() {
		return ferrors.ValidationError("implicit profile cannot be removed").WithContext("uid", uid).Build()
	}
	x.Items = append(x.Items[:i], x.Items[i+1:]...)
	chainUIDs := x.Chain[:0]
	for _, c := range x.Chain {
		if c != uid {
			chainUIDs = append(chainUIDs, c)
		}
	}
	x.Chain = chainUIDs
	if err := s.save(x); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, item.File)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to remove profile file").
			WithContext("uid", uid).
			Build()
	}
	return nil
}

// SetChain replaces the chain order. Every uid must name an existing item.
func (s *Store) SetChain(uids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(uids))
	for _, uid := range uids {
		if x.find(uid) < 0 {
			return notFound(uid)
		}
		if seen[uid] {
			return ferrors.ValidationError("profile listed twice in chain").WithContext("uid", uid).Build()
		}
		seen[uid] = true
	}
	x.Chain = append([]string(nil), uids...)
	return s.save(x)
}

// Provision creates the implicit Merge and Script items when they are absent
// and reports whether anything was written. Existing items are left alone, so
// repeated calls are harmless.
func (s *Store) Provision() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, err := s.load()
	if err != nil {
		return false, err
	}
	implicit := []struct {
		item     Item
		template string
	}{
		{Item{UID: MergeUID, Name: MergeUID, Type: chain.KindMerge, Desc: "implicit merge"}, mergeTemplate},
		{Item{UID: ScriptUID, Name: ScriptUID, Type: chain.KindScript, Desc: "implicit script"}, scriptTemplate},
	}
	changed := false
	for _, p := range implicit {
		if x.find(p.item.UID) >= 0 {
			continue
		}
		item, err := s.insert(x, p.item, []byte(p.template))
		if err != nil {
			return false, err
		}
		x.Chain = append(x.Chain, item.UID)
		changed = true
		s.log.Info("Provisioned implicit profile", logfields.Profile(item.UID))
	}
	if !changed {
		return false, nil
	}
	return true, s.save(x)
}

// insert validates item, writes its file and appends it to x.Items.
func (s *Store) insert(x *index, item Item, content []byte) (Item, error) {
	kind, err := ParseType(string(item.Type))
	if err != nil {
		return Item{}, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid profile type").
			WithContext("type", string(item.Type)).
			Build()
	}
	item.Type = kind
	if item.UID == "" {
		item.UID = uuid.NewString()
	}
	if x.find(item.UID) >= 0 {
		return Item{}, ferrors.AlreadyExistsError("profile already exists").WithContext("uid", item.UID).Build()
	}
	if item.Name == "" {
		item.Name = item.UID
	}
	if item.Name == chain.DefaultsName || item.Name == chain.TunName {
		return Item{}, ferrors.ValidationError("profile name is reserved").WithContext("name", item.Name).Build()
	}
	for _, existing := range x.Items {
		if existing.UnitName() == item.Name {
			return Item{}, ferrors.AlreadyExistsError("profile name already in use").WithContext("name", item.Name).Build()
		}
	}
	if kind == chain.KindMerge {
		if _, err := chain.NewMerge(item.Name, content); err != nil {
			return Item{}, err
		}
	}
	item.File = item.UID + extensionFor(kind)
	item.Updated = s.now().Unix()
	if err := s.writeFile(item.File, content); err != nil {
		return Item{}, err
	}
	x.Items = append(x.Items, item)
	return item, nil
}

func (s *Store) load() (*index, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &index{}, nil
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read profile index").
			WithContext("path", s.indexPath).
			Build()
	}
	var x index
	if err := yaml.Unmarshal(data, &x); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "malformed profile index").
			WithContext("path", s.indexPath).
			Build()
	}
	return &x, nil
}

func (s *Store) save(x *index) error {
	data, err := yaml.Marshal(x)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal profile index").Build()
	}
	return writeAtomic(s.indexPath, data)
}

func (s *Store) writeFile(name string, content []byte) error {
	return writeAtomic(filepath.Join(s.dir, name), content)
}

// writeAtomic writes through a temporary file and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create directory").
			WithContext("path", filepath.Dir(path)).
			Build()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write temporary file").
			WithContext("path", tmp).
			Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace file").
			WithContext("path", path).
			Build()
	}
	return nil
}

func notFound(uid string) error {
	return ferrors.NotFoundError("profile not found").WithContext("uid", uid).Build()
}
