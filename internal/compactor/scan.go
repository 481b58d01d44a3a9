package compactor

import (
	"io/fs"
	"iter"
	"path/filepath"

	"github.com/JakeFAU/mediaharvest/internal/manifest"
)

// Unit pairs a fetch unit (the directory holding a manifest) with its
// archive unit (the item directory above it).
type Unit struct {
	FetchDir   string
	ArchiveDir string
}

// Scan lazily walks root and yields one Unit per regular file named
// manifest.FileName. Unreadable entries are skipped. The sequence walks the
// tree again each time it is ranged over.
func Scan(root string) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d == nil {
				return nil
			}
			if !d.Type().IsRegular() || d.Name() != manifest.FileName {
				return nil
			}
			fetchDir := filepath.Dir(path)
			if !yield(Unit{FetchDir: fetchDir, ArchiveDir: filepath.Dir(fetchDir)}) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

type group struct {
	archiveDir string
	fetchDirs  []string
}

// groups folds consecutive Units that share an archive dir.
func groups(units iter.Seq[Unit]) iter.Seq[group] {
	return func(yield func(group) bool) {
		var cur *group
		for u := range units {
			if cur != nil && cur.archiveDir == u.ArchiveDir {
				cur.fetchDirs = append(cur.fetchDirs, u.FetchDir)
				continue
			}
			if cur != nil && !yield(*cur) {
				return
			}
			cur = &group{archiveDir: u.ArchiveDir, fetchDirs: []string{u.FetchDir}}
		}
		if cur != nil {
			yield(*cur)
		}
	}
}
