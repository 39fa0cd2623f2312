package playback

import (
	"context"
	"testing"
)

type stubResolver struct {
	name   string
	prefix string
}

func (s stubResolver) CanHandle(query string) bool {
	return len(query) >= len(s.prefix) && query[:len(s.prefix)] == s.prefix
}

func (s stubResolver) Resolve(ctx context.Context, query string) ([]ResolvedTrack, error) {
	return []ResolvedTrack{{Title: query, URL: query}}, nil
}

func (s stubResolver) Name() string { return s.name }

func TestResolverRegistryFindsFirstMatch(t *testing.T) {
	r := NewResolverRegistry()
	r.Register(stubResolver{name: "youtube", prefix: "https://youtube.com/"})
	r.Register(stubResolver{name: "soundcloud", prefix: "https://soundcloud.com/"})

	res := r.Find("https://soundcloud.com/track")
	if res == nil || res.Name() != "soundcloud" {
		t.Fatalf("expected soundcloud resolver, got %v", res)
	}
}

func TestResolverRegistryReturnsNilWhenNoneMatch(t *testing.T) {
	r := NewResolverRegistry()
	r.Register(stubResolver{name: "youtube", prefix: "https://youtube.com/"})

	if res := r.Find("https://example.com/x"); res != nil {
		t.Fatalf("expected no match, got %v", res)
	}
}

func TestResolverRegistryNames(t *testing.T) {
	r := NewResolverRegistry()
	r.Register(stubResolver{name: "youtube", prefix: "y"})
	r.Register(stubResolver{name: "soundcloud", prefix: "s"})

	names := r.Names()
	if len(names) != 2 || names[0] != "youtube" || names[1] != "soundcloud" {
		t.Fatalf("Names() = %v, want [youtube soundcloud]", names)
	}
}

func TestToSongCarriesResolverKey(t *testing.T) {
	track := ResolvedTrack{Title: "t", URL: "u", ResolverKey: "yt:123"}
	song := ToSong(track, "user-1")
	if song.RequesterID != "user-1" || song.ResolverKey != "yt:123" {
		t.Fatalf("ToSong = %+v", song)
	}
}
