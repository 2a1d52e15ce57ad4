package parsers

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// LoadedFile is the result of decoding one message file
type LoadedFile struct {
	Path   string
	Inputs []reconciler.IngestInput
	Err    error
}

// messageExtensions maps the file extensions LoadFiles picks up when walking a
// directory to their decoder
var messageExtensions = map[string]bool{
	".eml":    true,
	".json":   true,
	".jsonl":  true,
	".ndjson": true,
}

// LoadFiles decodes message files and every message file below the given
// directories. Files are decoded concurrently; results keep a stable path
// order. A file that fails to decode is reported on its LoadedFile, and only a
// path that cannot be walked fails the call.
func LoadFiles(ctx context.Context, paths []string, config *MessageConfig) ([]LoadedFile, error) {
	if config == nil {
		config = DefaultMessageConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "message_loader", config, err)
	}

	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("message_loader")
	log.WithField("files", len(files)).Debug("loading message files")

	mapper := iter.Mapper[string, LoadedFile]{MaxGoroutines: config.Concurrency}
	loaded := mapper.Map(files, func(path *string) LoadedFile {
		lf := LoadedFile{Path: *path}
		if err := ctx.Err(); err != nil {
			lf.Err = err
			return lf
		}
		lf.Inputs, lf.Err = loadFile(*path, config)
		if lf.Err != nil {
			log.WithError(lf.Err).WithField("file", *path).Warn("message file skipped")
		}
		return lf
	})
	return loaded, nil
}

// Inputs flattens loaded files into ingest inputs, the path each input came
// from and the errors of files that failed to decode
func Inputs(files []LoadedFile) ([]reconciler.IngestInput, []string, []error) {
	var inputs []reconciler.IngestInput
	var origins []string
	var errs []error
	for _, f := range files {
		if f.Err != nil {
			errs = append(errs, f.Err)
			continue
		}
		for range f.Inputs {
			origins = append(origins, f.Path)
		}
		inputs = append(inputs, f.Inputs...)
	}
	return inputs, origins, errs
}

func loadFile(path string, config *MessageConfig) ([]reconciler.IngestInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		inputs, err := ParseJSON(f, config)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInput, errors.CodeUnreadableFile, path)
		}
		return inputs, nil
	default:
		in, err := ParseEML(f, config)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInput, errors.CodeUnreadableFile, path)
		}
		return []reconciler.IngestInput{*in}, nil
	}
}

// expandPaths replaces directories by the message files below them. Files
// named explicitly are kept whatever their extension.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.InputError(errors.CodeUnreadableFile, p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && messageExtensions[strings.ToLower(filepath.Ext(path))] {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.InputError(errors.CodeUnreadableFile, p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
