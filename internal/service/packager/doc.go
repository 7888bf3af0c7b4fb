// Package packager builds release bundles accepted by the release server.
//
// A YAML description names the label, the application and installer versions
// and the release notes. The files of a source directory are packed with the
// generated versionInfo.json, releaseNote.json and checksums.yaml into the
// nested {label}/{label}_installer.zip, wrapped in {label}_build.zip.
package packager
