// Package bundle validates and unpacks uploaded release bundles.
//
// A bundle for label L holds a single top-level directory L/ with exactly one
// nested installer archive L/L_*.zip. The nested archive carries
// versionInfo.json, releaseNote.json and optionally checksums.yaml; the two JSON
// documents are validated against embedded JSON Schemas before they are decoded.
package bundle
