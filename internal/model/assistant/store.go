package assistant

// Store exposes assistant lookup for mention scanning and AI dispatch.
type Store interface {
	List() []Profile
	FindByMention(mention string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// List returns the configured assistant profiles.
func (s *MemoryStore) List() []Profile {
	return append([]Profile(nil), s.items...)
}

// FindByMention looks up a profile by its mention token.
func (s *MemoryStore) FindByMention(mention string) (Profile, bool) {
	for _, item := range s.items {
		if item.Mention == mention {
			return item, true
		}
	}
	return Profile{}, false
}
