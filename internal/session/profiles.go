package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ferry/internal/blobcache"
	"ferry/internal/logging"
	"ferry/internal/stores"
)

// Profile is the owner record pages render next to a conversation.
type Profile struct {
	OwnerID     string    `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	AvatarKey   string    `json:"avatar_key,omitempty"`
	Persona     string    `json:"persona,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile returns the owner's profile, reading through the session cache.
func (s *Session) Profile(ctx context.Context, ownerID string) (Profile, bool, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Profile{}, false, errors.New("profile: owner id is required")
	}
	s.mu.Lock()
	cached, ok := s.profiles[ownerID]
	s.mu.Unlock()
	if ok {
		return cached, true, nil
	}

	var p Profile
	found, err := s.store.Get(ctx, stores.PartitionProfiles, ownerID, &p)
	if err != nil {
		return Profile{}, false, fmt.Errorf("profile %s: %w", ownerID, err)
	}
	if !found {
		return Profile{}, false, nil
	}
	s.mu.Lock()
	s.profiles[ownerID] = p
	s.mu.Unlock()
	return p, true, nil
}

// SaveProfile writes p and refreshes the cache.
func (s *Session) SaveProfile(ctx context.Context, p Profile) error {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	if p.OwnerID == "" {
		return errors.New("save profile: owner id is required")
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Set(ctx, stores.PartitionProfiles, p.OwnerID, p); err != nil {
		return fmt.Errorf("save profile %s: %w", p.OwnerID, err)
	}
	s.mu.Lock()
	s.profiles[p.OwnerID] = p
	s.mu.Unlock()
	return nil
}

// Profiles lists every stored profile, bypassing the cache.
func (s *Session) Profiles(ctx context.Context) ([]Profile, error) {
	keys, err := s.store.ListKeys(ctx, stores.PartitionProfiles)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]Profile, 0, len(keys))
	for _, key := range keys {
		var p Profile
		found, err := s.store.Get(ctx, stores.PartitionProfiles, key, &p)
		if err != nil {
			logging.WarnWithContext(s.logger, "skipping unreadable profile", "profile_corrupt",
				logging.String(logging.FieldOwnerID, key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "profile omitted from listings"),
			)
			continue
		}
		if found {
			out = append(out, p)
		}
	}
	return out, nil
}

// Avatar opens the owner's avatar blob. The caller must Release the handle.
func (s *Session) Avatar(ctx context.Context, ownerID string) (*blobcache.Handle, bool, error) {
	p, found, err := s.Profile(ctx, ownerID)
	if err != nil || !found || p.AvatarKey == "" {
		return nil, false, err
	}
	return s.blobs.Get(ctx, p.AvatarKey)
}

// CollectBlobs removes blobs no profile references. extra keys are kept too.
func (s *Session) CollectBlobs(ctx context.Context, extra ...string) (int, error) {
	profiles, err := s.Profiles(ctx)
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(profiles)+len(extra))
	for _, p := range profiles {
		if p.AvatarKey != "" {
			live[p.AvatarKey] = struct{}{}
		}
	}
	for _, key := range extra {
		if key = strings.TrimSpace(key); key != "" {
			live[key] = struct{}{}
		}
	}
	return s.blobs.GarbageCollect(ctx, live)
}
