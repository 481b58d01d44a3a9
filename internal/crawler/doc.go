// Package crawler walks a tag's paginated listing on the gallery site and
// turns each discovered item into per-category media manifests on disk.
package crawler
