package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultExtractorJar is the javac plugin that emits <file>.proto features.
const DefaultExtractorJar = "src/features-javac-extractor-latest.jar"

// Converter turns one .java file into a feature file inside outputDir.
type Converter func(ctx context.Context, javaPath, outputDir string) error

// JavacConverter compiles with the feature plugin on the classpath and moves
// the resulting <file>.proto into outputDir.
func JavacConverter(jar string) Converter {
	return func(ctx context.Context, javaPath, outputDir string) error {
		cmd := exec.CommandContext(ctx, "javac", "-cp", jar, "-Xplugin:FeaturePlugin", javaPath)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("javac %v: %w: %s", javaPath, err, out)
		}
		proto := javaPath + ".proto"
		if err := os.Rename(proto, filepath.Join(outputDir, filepath.Base(proto))); err != nil {
			return fmt.Errorf("moving %v: %w", proto, err)
		}
		return nil
	}
}

type Failure struct {
	Path string
	Err  error
}

type Summary struct {
	Files     int
	Converted int
	Failures  []Failure
	Duration  time.Duration
}

type Job struct {
	InputDir  string
	OutputDir string
	// Limit caps the number of files; <= 0 converts all of them.
	Limit   int
	Workers int
	Convert Converter
	// ProgressEvery is the progress log interval (default 10s).
	ProgressEvery time.Duration
	Logger        *slog.Logger
}

// JavaFiles lists the .java files under dir in lexical order.
func JavaFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".java" {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Run converts every file on a bounded pool. Per-file failures are collected
// in the summary; only setup problems and cancellation return an error.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if info, err := os.Stat(j.InputDir); err != nil {
		return nil, fmt.Errorf("no such dir %v: %w", j.InputDir, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("input %v is not a directory", j.InputDir)
	}
	if info, err := os.Stat(j.OutputDir); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("given output %v is a file, but directory required", j.OutputDir)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(j.OutputDir, 0777); err != nil {
		return nil, err
	}

	logger.Info("scanning .java files", "dir", j.InputDir)
	files, err := JavaFiles(j.InputDir)
	if err != nil {
		return nil, err
	}
	if j.Limit > 0 && len(files) > j.Limit {
		files = files[:j.Limit]
	}
	logger.Info("found .java files", "count", len(files))

	convert := j.Convert
	if convert == nil {
		convert = JavacConverter(DefaultExtractorJar)
	}
	workers := j.Workers
	if workers <= 0 {
		workers = 4
	}
	every := j.ProgressEvery
	if every <= 0 {
		every = 10 * time.Second
	}

	start := time.Now()
	var done atomic.Int64
	var mu sync.Mutex
	summary := &Summary{Files: len(files)}

	stop := make(chan struct{})
	var progress sync.WaitGroup
	progress.Add(1)
	go func() {
		defer progress.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n := done.Load()
				logger.Info("extracting", "done", n, "total", len(files),
					"percent", fmt.Sprintf("%3.2f", float64(n)/float64(max(len(files), 1))*100),
					"elapsed", time.Since(start).Round(time.Second))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := convert(gctx, path, j.OutputDir)
			done.Add(1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures = append(summary.Failures, Failure{Path: path, Err: err})
			} else {
				summary.Converted++
			}
			return nil
		})
	}
	err = g.Wait()
	close(stop)
	progress.Wait()

	summary.Duration = time.Since(start)
	sort.Slice(summary.Failures, func(a, b int) bool { return summary.Failures[a].Path < summary.Failures[b].Path })
	logger.Info("finished extracting", "files", summary.Files, "converted", summary.Converted,
		"failed", len(summary.Failures), "time", summary.Duration.Round(time.Second))
	return summary, err
}
