// Package entity holds the subset of gateway domain objects the client decodes.
//
// These are plain structural mappings. Only the fields the client and its CLI
// read are modelled; unknown fields are ignored by encoding/json.
//
// Objects that reference remote resources (for example a Message pointing at
// its Channel) implement HTTPAttachable so the event decoder can hand them a
// ResourceClient for follow-up lookups.
package entity
