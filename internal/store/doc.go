// Package store persists dossier packaging state.
//
// Two backends share the same semantics: FirestoreStore for the hosted
// deployment and SQLiteStore for self-hosted runs and tests. Every write that
// touches a dossier is scoped to the dossier's partition (graph); a dossier
// looked up under the wrong graph is reported as ErrNotFound.
//
// Status changes follow the packaging state machine enforced by
// CheckTransition: Unset -> Processing -> Packaged | PackagingFailed.
// Re-applying the current target is allowed so transitions can be retried.
// Claim is the stricter entry into Processing used by the packager: it only
// succeeds from Unset.
package store
