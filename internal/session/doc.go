// Package session is the page side of ferry.
//
// A Session owns everything a page holds for its lifetime: the shared store,
// the blob cache with its handle registry, the task queue, the dispatcher,
// and a profile cache. Invalidate drops the cache and revokes every live
// blob handle; Close does the same and then closes storage.
//
// Tasks created through a session are sent to ferryd when it answers and
// are otherwise executed in process. Run long-polls ferryd for result and
// focus envelopes and applies them, so a page that restarts picks up work
// the daemon finished while it was gone.
package session
