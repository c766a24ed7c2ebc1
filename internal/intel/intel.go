package intel

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"

	"nostrintel/internal/model"
)

var log = logrus.WithField("module", "intel")

// EventFetcher is the slice of the relay pool the pipelines consume.
type EventFetcher interface {
	FetchRecentNotes(ctx context.Context, since time.Time, limit int) ([]*nostr.Event, error)
	FetchReactions(ctx context.Context, noteIDs []string, since time.Time) ([]*nostr.Event, error)
	FetchReposts(ctx context.Context, noteIDs []string, since time.Time) ([]*nostr.Event, error)
	FetchContactList(ctx context.Context, pubkey string) (*nostr.Event, error)
	FetchFollowers(ctx context.Context, pubkey string, limit int) ([]*nostr.Event, error)
	FetchZapReceipts(ctx context.Context, pubkey string, since time.Time) ([]*nostr.Event, error)
}

// ProfileCache resolves pubkeys to cached profiles. Pipelines never go to
// the network for names.
type ProfileCache interface {
	GetProfile(ctx context.Context, pubkey string) (*model.CachedProfile, error)
}

// Service runs the aggregation pipelines against a relay pool and the
// profile cache.
type Service struct {
	fetcher EventFetcher
	cache   ProfileCache
	nowFunc func() time.Time
}

func NewService(fetcher EventFetcher, cache ProfileCache) *Service {
	return &Service{fetcher: fetcher, cache: cache, nowFunc: time.Now}
}

// cachedName returns the best display name for a pubkey, or "" when the
// cache has nothing. Cache errors degrade to a miss.
func (s *Service) cachedName(ctx context.Context, pubkey string) string {
	if s.cache == nil {
		return ""
	}
	profile, err := s.cache.GetProfile(ctx, pubkey)
	if err != nil {
		log.WithError(err).Debug("profile cache read failed")
		return ""
	}
	if profile == nil {
		return ""
	}
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return profile.Name
}

// tagValues returns the second element of every tag with the given name.
func tagValues(ev *nostr.Event, name string) []string {
	var out []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

func firstTagValue(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
