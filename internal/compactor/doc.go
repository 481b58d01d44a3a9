// Package compactor scans a crawl output tree for published manifests, has
// each fetch unit retrieved, and folds completed item directories into
// bounded archive batches that are uploaded and then removed from disk.
package compactor
