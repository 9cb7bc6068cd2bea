// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec wraps the fxamacker/cbor configuration MemoDB uses
// for CBOR work outside the value layer.
//
// The value layer (package node) has its own hand-built dag-cbor
// codec because it needs exact control over canonical form, link tags,
// and rejection behavior. This package covers the two remaining CBOR
// needs:
//
//   - Diagnostic notation (RFC 8949 §8) for the CLI's diag command,
//     via [Diagnose] and [DiagnoseFirst].
//   - Deterministic struct marshaling for tools that exchange CBOR
//     with non-MemoDB systems, via [Marshal] and [Unmarshal]. The
//     encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so
//     the same logical data always produces identical bytes.
package codec
