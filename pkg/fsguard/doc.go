/*
Package fsguard confines every filesystem operation of the storage service.

Three primitives guard the disk boundary:

  - SafeJoin resolves a user-supplied relative path against a root and fails
    with ErrUnsafePath when the result would land outside it.
  - SanitizeFilename reduces untrusted names (upload headers, archive entry
    names, token claims) to a safe basename.
  - IsSafeJobID validates job identifiers against [A-Za-z0-9_-]{8,128}.

The rule across the codebase: no os.Create, os.Rename, os.Remove or
os.MkdirAll on a path derived from job input unless that path came out of
SafeJoin. Archive extraction re-validates entry destinations here even though
the archiver tool performs its own checks.
*/
package fsguard
