package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/samber/lo"
)

// fileArgs turns command line arguments into the files to send. Arguments may
// be glob patterns; anything that is not an existing regular file is skipped
// with a warning.
type fileArgs struct {
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

func isPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[{")
}

// expand returns the absolute, de-duplicated file paths matched by args in
// argument order.
func (f fileArgs) expand(args []string) []string {
	var paths []string
	for _, arg := range args {
		if isPattern(arg) {
			paths = append(paths, f.glob(arg)...)
			continue
		}
		if path, ok := f.file(arg); ok {
			paths = append(paths, path)
		}
	}
	return lo.Uniq(paths)
}

func (f fileArgs) glob(pattern string) []string {
	base, rest := doublestar.SplitPattern(pattern)
	absBase, err := f.pathModifier.AbsPath(base)
	if err != nil {
		f.logger.Warnf("Skipping %s, can't resolve %s: %s", pattern, base, err)
		return nil
	}

	// directories and symlinks are not uploaded, only the files they hold
	matches, err := doublestar.Glob(os.DirFS(absBase), rest, doublestar.WithNoFollow(), doublestar.WithFilesOnly())
	if err != nil {
		f.logger.Warnf("Skipping %s, invalid pattern: %s", pattern, err)
		return nil
	}
	if len(matches) == 0 {
		f.logger.Warnf("No file matches %s", pattern)
		return nil
	}

	return lo.Map(matches, func(match string, _ int) string {
		return filepath.Join(absBase, filepath.FromSlash(match))
	})
}

func (f fileArgs) file(arg string) (string, bool) {
	path, err := f.pathModifier.AbsPath(arg)
	if err != nil {
		f.logger.Warnf("Skipping %s, can't resolve it: %s", arg, err)
		return "", false
	}

	isDir, err := f.pathChecker.IsDirExists(path)
	if err != nil {
		f.logger.Warnf("Skipping %s: %s", arg, err)
		return "", false
	}
	if isDir {
		f.logger.Warnf("Skipping %s, it is a directory (use %s to upload its files)", arg, filepath.Join(arg, "**", "*"))
		return "", false
	}

	exists, err := f.pathChecker.IsPathExists(path)
	if err != nil {
		f.logger.Warnf("Skipping %s: %s", arg, err)
		return "", false
	}
	if !exists {
		f.logger.Warnf("Skipping %s, file doesn't exist", arg)
		return "", false
	}

	return path, true
}

// sources opens the files behind paths. A file that can't be read is skipped
// so the rest of the batch still goes through.
func (f fileArgs) sources(paths []string) []transfer.Source {
	var sources []transfer.Source
	for _, path := range paths {
		src, err := transfer.NewFileSource(path)
		if err != nil {
			f.logger.Warnf("Skipping %s: %s", path, err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}
