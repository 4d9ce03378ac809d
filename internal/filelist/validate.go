package filelist

import (
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Reference is a candidate path plus the facts the validator checks.
type Reference struct {
	Path      string
	Exists    bool
	IsFile    bool
	HasCSVExt bool
}

// Inspect stats path. A missing path is not an error; any other stat failure
// (permission denied, too many links, ...) is returned.
func Inspect(path string) (Reference, error) {
	ref := Reference{
		Path:      path,
		HasCSVExt: strings.HasSuffix(strings.ToLower(path), ".csv"),
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ref, nil
	}
	if err != nil {
		return ref, errors.Wrap(err, "stat")
	}
	ref.Exists = true
	ref.IsFile = info.Mode().IsRegular()
	return ref, nil
}

// Problem describes the first failed check, or "" for a valid reference.
func (r Reference) Problem() string {
	switch {
	case !r.Exists:
		return "Path does not exist"
	case !r.IsFile:
		return "Not a file"
	case !r.HasCSVExt:
		return "Not a CSV file"
	default:
		return ""
	}
}

// Valid reports whether every check passed.
func (r Reference) Valid() bool {
	return r.Problem() == ""
}

// Validate keeps the paths that exist, are regular files and end in .csv
// (any case), in their original order. Rejected paths are logged and dropped;
// one bad path never stops the rest from being checked.
func Validate(paths []string, logger *zap.Logger) []string {
	valid := make([]string, 0, len(paths))
	for _, p := range paths {
		ref, err := Inspect(p)
		if err != nil {
			logger.Error("Error validating path "+p, zap.String("path", p), zap.Error(err))
			continue
		}
		if problem := ref.Problem(); problem != "" {
			logger.Warn(problem+": "+p, zap.String("path", p))
			continue
		}
		valid = append(valid, p)
	}
	return valid
}
