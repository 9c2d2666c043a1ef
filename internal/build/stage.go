package build

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caetera/spectronaut-webui/internal/registry"
)

// maxStageWorkers bounds concurrent zip extraction. Extraction is IO bound;
// more workers than this just thrash the disk.
const maxStageWorkers = 8

// brukerMarker must exist inside every Bruker D folder for it to be usable.
const brukerMarker = "analysis.tdf"

// stageEntries prepares the batch's input files and returns a copy of
// entries with paths rewritten to their staged locations. Bruker D folders
// are verified in place; Bruker D Zip archives are extracted under dataDir
// concurrently. Thermo Raw files need no staging.
func stageEntries(
	ctx context.Context,
	entries []registry.FileEntry,
	dataDir string,
	logger *slog.Logger,
) ([]registry.FileEntry, error) {
	staged := make([]registry.FileEntry, len(entries))
	copy(staged, entries)

	var zipped []int

	for i := range staged {
		switch staged[i].Kind {
		case registry.KindBrukerD:
			marker := filepath.Join(staged[i].Path, brukerMarker)
			if _, err := os.Stat(marker); err != nil {
				return nil, StagingError{
					Path: staged[i].Path,
					Err:  fmt.Errorf("corrupted Bruker D folder, missing %s", brukerMarker),
				}
			}
		case registry.KindBrukerDZip:
			zipped = append(zipped, i)
		}
	}

	if len(zipped) == 0 {
		return staged, nil
	}

	logger.Info("extracting Bruker D Zip archives", "count", len(zipped))

	workers := min(len(zipped), maxStageWorkers)

	indexes := make(chan int)
	errCh := make(chan error, len(zipped))

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indexes {
				entry := &staged[i]
				dest := filepath.Join(dataDir, entry.Stem())

				logger.Debug("extracting archive", "src", entry.Path, "dest", dest)

				if err := extractArchive(entry.Path, dest); err != nil {
					errCh <- StagingError{Path: entry.Path, Err: err}
					continue
				}

				if _, err := os.Stat(filepath.Join(dest, brukerMarker)); err != nil {
					errCh <- StagingError{
						Path: entry.Path,
						Err:  fmt.Errorf("missing %s after extraction", brukerMarker),
					}
					continue
				}

				entry.Name = entry.Stem()
				entry.Path = dest
			}
		}()
	}

	feed := func() error {
		defer close(indexes)

		for _, i := range zipped {
			select {
			case indexes <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	}

	feedErr := feed()

	wg.Wait()
	close(errCh)

	if feedErr != nil {
		return nil, feedErr
	}

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return staged, nil
}

// extractArchive extracts a zip archive into dest, rejecting entries that
// would escape dest.
func extractArchive(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
