package pageload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"metricize/internal/dirwatch"
	"metricize/internal/rewrite"
)

// FileError names a file ConvertDir could not convert.
type FileError struct {
	Name string
	Err  error
}

// DirReport summarizes a directory run.
type DirReport struct {
	Converted []string
	Failed    []FileError
	Stats     rewrite.Stats
}

// ConvertDir converts every .html/.htm file directly inside in, in filename
// order, writing each result under out with the same name. Files that cannot
// be read or converted are skipped and listed in the report.
func ConvertDir(ctx context.Context, in, out string, opts Options) (DirReport, error) {
	entries, err := os.ReadDir(in)
	if err != nil {
		return DirReport{}, fmt.Errorf("read dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var rep DirReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if e.IsDir() || !dirwatch.IsHTML(e.Name()) {
			continue
		}

		fo := opts
		fo.Page = e.Name()
		st, err := ConvertFile(ctx, filepath.Join(in, e.Name()), filepath.Join(out, e.Name()), fo)
		if err != nil {
			rep.Failed = append(rep.Failed, FileError{Name: e.Name(), Err: err})
			if opts.Logger != nil {
				opts.Logger.Printf("skip %s: %v", e.Name(), err)
			}
			continue
		}
		rep.Converted = append(rep.Converted, e.Name())
		rep.Stats = add(rep.Stats, st)
	}
	return rep, nil
}

func add(a, b rewrite.Stats) rewrite.Stats {
	return rewrite.Stats{
		Visited:   a.Visited + b.Visited,
		Rewritten: a.Rewritten + b.Rewritten,
		Converted: a.Converted + b.Converted,
		Skipped:   a.Skipped + b.Skipped,
		Failures:  a.Failures + b.Failures,
	}
}
