package playback

import "context"

// ResolvedTrack is the data shape a Resolver returns for one playable URL or
// search term Song fields. Media extraction
// itself is out of scope (out of scope) — this package only
// depends on the narrow shape, not an implementation.
type ResolvedTrack struct {
	Title       string
	URL         string
	Thumbnail   string
	IsLive      bool
	DurationS   uint32
	ResolverKey string
}

// Resolver turns a user-supplied query or URL into one or more playable
// tracks. Concrete implementations (platform-specific extractors) live
// outside this package; this interface is the Dependency Inversion boundary
// that keeps media extraction out of the playback core.
type Resolver interface {
	// CanHandle reports whether this resolver recognizes query.
	CanHandle(query string) bool
	// Resolve extracts one or more tracks from query (a single track for a
	// direct URL, multiple for a playlist).
	Resolve(ctx context.Context, query string) ([]ResolvedTrack, error)
	// Name identifies the resolver, e.g. "youtube", "soundcloud".
	Name() string
}

// ResolverRegistry dispatches a query to the first Resolver that claims it,
// adapted from this codebase's platform.Registry (Open/Closed: add
// resolvers without touching dispatch logic).
type ResolverRegistry struct {
	resolvers []Resolver
}

// NewResolverRegistry creates an empty registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{}
}

// Register adds a resolver to the registry.
func (r *ResolverRegistry) Register(res Resolver) {
	r.resolvers = append(r.resolvers, res)
}

// Find returns the first registered resolver that claims query, or nil.
func (r *ResolverRegistry) Find(query string) Resolver {
	for _, res := range r.resolvers {
		if res.CanHandle(query) {
			return res
		}
	}
	return nil
}

// Names lists every registered resolver's name.
func (r *ResolverRegistry) Names() []string {
	names := make([]string, len(r.resolvers))
	for i, res := range r.resolvers {
		names[i] = res.Name()
	}
	return names
}

// ToSong converts a resolved track into a queueable Song for requesterID.
func ToSong(t ResolvedTrack, requesterID string) Song {
	return Song{
		Title:       t.Title,
		URL:         t.URL,
		Thumbnail:   t.Thumbnail,
		IsLive:      t.IsLive,
		DurationS:   t.DurationS,
		RequesterID: requesterID,
		ResolverKey: t.ResolverKey,
	}
}
