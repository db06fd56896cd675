// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package models defines the shared data types of the territory pipeline:
// the territory map fetched from the upstream authority, the self-contained
// change records emitted by the differ, the tagged event union carried over
// SSE, and the history query payloads.
//
// All types serialize with goccy/go-json and match the wire schemas consumed
// by browser clients:
//
//	snapshot: {"type":"Snapshot","seq":N,"territories":{...},"timestamp":"..."}
//	update:   {"type":"Update","seq":N,"changes":[...],"timestamp":"..."}
//
// Events are a tagged union of exactly two variants, discriminated by the
// "type" field rather than by a type hierarchy.
package models
