// Package blobcache stores binary assets (avatars, stickers, backgrounds,
// photos) in a dedicated kvstore file.
//
// Each payload lives under "category/key", where the category is inferred from
// the key's naming convention unless the caller supplies one. Avatars are
// recompressed to a bounded JPEG on save. Older releases stored payloads under
// the bare key, or as base64 data URLs in text columns; Get still finds those
// forms and rewrites them in the background without delaying the read.
//
// Reads hand out Handles from a session-scoped Registry. A registry keeps at
// most one live handle per key, so reissuing, deleting, or collecting a key
// revokes whatever handle was issued for it before.
package blobcache
