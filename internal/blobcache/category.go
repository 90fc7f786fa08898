package blobcache

import (
	"fmt"
	"strings"
)

// Category is a coarse classification of a blob that selects its storage
// prefix and save-time transform.
type Category string

const (
	CategoryAvatar     Category = "avatar"
	CategorySticker    Category = "sticker"
	CategoryBackground Category = "background"
	CategoryPhoto      Category = "photo"
	CategoryMisc       Category = "misc"
)

var allCategories = []Category{
	CategoryAvatar,
	CategorySticker,
	CategoryBackground,
	CategoryPhoto,
	CategoryMisc,
}

// AllCategories returns the known categories in display order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory converts a string into a known Category.
func ParseCategory(value string) (Category, bool) {
	normalized := Category(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range allCategories {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

var categoryPrefixes = []struct {
	category Category
	prefixes []string
}{
	{CategoryAvatar, []string{"avatar_", "avatar:", "profile_"}},
	{CategorySticker, []string{"sticker_"}},
	{CategoryBackground, []string{"bg_", "background_", "wallpaper_"}},
	{CategoryPhoto, []string{"photo_", "image_", "moment_"}},
}

// InferCategory classifies a logical key by its naming convention.
func InferCategory(key string) Category {
	lower := strings.ToLower(strings.TrimSpace(key))
	if strings.HasSuffix(lower, "_avatar") {
		return CategoryAvatar
	}
	for _, rule := range categoryPrefixes {
		for _, prefix := range rule.prefixes {
			if strings.HasPrefix(lower, prefix) {
				return rule.category
			}
		}
	}
	return CategoryMisc
}

func resolveCategory(key string, hint Category) (Category, error) {
	if hint == "" {
		return InferCategory(key), nil
	}
	c, ok := ParseCategory(string(hint))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, hint)
	}
	return c, nil
}

func storageKey(c Category, key string) string {
	return string(c) + "/" + key
}

// splitStorageKey maps a persisted key back to its logical key. Keys without a
// known category prefix are legacy bare keys.
func splitStorageKey(stored string) (key string, c Category, legacy bool) {
	if prefix, rest, ok := strings.Cut(stored, "/"); ok && rest != "" {
		if parsed, known := ParseCategory(prefix); known && string(parsed) == prefix {
			return rest, parsed, false
		}
	}
	return stored, InferCategory(stored), true
}

// candidates lists the storage keys a logical key may live under, most likely first.
func candidates(key string) []string {
	inferred := InferCategory(key)
	out := make([]string, 0, len(allCategories))
	out = append(out, storageKey(inferred, key))
	for _, c := range allCategories {
		if c != inferred {
			out = append(out, storageKey(c, key))
		}
	}
	return out
}
