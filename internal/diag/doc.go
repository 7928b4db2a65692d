// Package diag models compiler diagnostics: parsing the external compiler's
// line-delimited JSON payloads, correlating spans back to segment provenance,
// and rendering errors against the user's original input.
package diag
