// Package filelist turns the operator's file list argument into validated CSV
// paths.
package filelist

import (
	"path/filepath"
	"regexp"
)

// Names may be separated by commas, whitespace, or any mix of both.
var tokenRe = regexp.MustCompile(`[^,\s]+`)

// Parse splits fileString into names and anchors each relative name at
// baseDir. Order is preserved. Nothing is checked against the filesystem.
func Parse(fileString, baseDir string) []string {
	tokens := tokenRe.FindAllString(fileString, -1)
	paths := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if filepath.IsAbs(tok) {
			paths = append(paths, tok)
			continue
		}
		paths = append(paths, filepath.Join(baseDir, tok))
	}
	return paths
}
