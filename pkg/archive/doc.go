/*
Package archive probes, validates, extracts and rebuilds mod archives.

All format detection, encryption detection and extraction are delegated to a
single external archiver binary (7z by default) so that every supported
format shares one implementation. Canonical ZIP creation runs in-process so
the configured compression level (0..9) is honored exactly.

# Architecture

	┌───────────────────── ARCHIVE TOOLKIT ─────────────────────┐
	│                                                             │
	│  source file                                                │
	│      │                                                      │
	│  ┌───▼──────────────┐   7z l -slt                          │
	│  │ Probe            │──────────────► type, entries,        │
	│  │                  │                per-entry method,     │
	│  └───┬──────────────┘                encrypted flags       │
	│      │                                                      │
	│  ┌───▼──────────────┐                                      │
	│  │ IsCanonicalZip   │  zip ∧ every entry unencrypted ∧     │
	│  │                  │  method ∈ {Deflate,LZMA,BZip2,PPMd}  │
	│  └───┬──────────────┘  (zero-byte Stored allowed)          │
	│      │ not canonical                                        │
	│  ┌───▼──────────────┐   7z x -y -o<dest>                   │
	│  │ Extract          │  entry paths validated before AND    │
	│  │                  │  after; tar wrappers unwrapped       │
	│  └───┬──────────────┘                                      │
	│      │                                                      │
	│  ┌───▼──────────────┐   archive/zip + klauspost flate      │
	│  │ BuildZip         │──────────────► packed.zip (Deflate   │
	│  └──────────────────┘                at level 0..9)        │
	└─────────────────────────────────────────────────────────────┘

# Safety

Entry paths from a listing are never trusted. Extract validates every entry
destination against the target directory before the archiver runs, then
walks the resulting tree and rejects any symlink whose target resolves
outside it. Encrypted archives are refused at both the probe and extract
steps: a listing that fails asking for a password marks the probe encrypted,
and per-entry Encrypted flags are honored even when the listing succeeds.

# Tar wrappers

gzip, bzip2 and xz archives carry a single member. When that member is a
tar, Extract recurses into it and removes the intermediate file, so callers
always see the fully unpacked tree.
*/
package archive
