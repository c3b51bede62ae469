/*
Package cache provides the response cache shared by every agent.

Values are addressed by a stable content hash of the requesting agent's
identity, model, input data, and cache format version (see Key). The Store
keeps a fast in-memory tier backed by one JSON file per key on disk, so
results survive restarts. Entries expire after their TTL, the store is
bounded by a max entry count with soonest-to-expire eviction, and every
disk-level fault degrades to a cache miss rather than surfacing to callers.
*/
package cache
