// Package model defines the data shared by every certsync component:
// trainers, certification records, verification statuses and the
// certification events delivered by the push channel.
//
// model imports nothing internal. All other internal packages import model,
// which keeps it the foundational layer with no circular dependencies.
//
// Payloads arriving from REST responses and push events are shape-tolerant:
// producers use alternately named fields, wrap records in envelopes and
// omit optional attributes. ParseEvent, ParseTrainer and ParseCertification
// map every accepted shape onto one canonical value before any reconciliation
// logic runs, and reject unmappable payloads early with ErrMalformedPayload.
//
// Fingerprint computes a content-addressed identity for an event using
// canonical JSON (sorted keys, NFC-normalized strings) and SHA-256 with
// domain separation, so the same logical event delivered on two channels
// hashes identically.
package model
