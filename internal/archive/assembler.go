// Package archive packages a job's successfully downloaded files into
// a single zip with a canonical internal layout.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"

	"github.com/papervault/paperfetch/internal/core"
)

// Assembler builds job archives. Assembly is deterministic: entries are
// sorted by archive path, modification times are zeroed, and the flate
// level is fixed, so re-invoking it for the same terminal job produces
// a byte-identical archive.
type Assembler struct {
	stagingRoot string
	outputRoot  string
}

// NewAssembler creates an assembler reading staged files from
// stagingRoot/<job-id>/<target-path> and writing archives under
// outputRoot.
func NewAssembler(stagingRoot, outputRoot string) *Assembler {
	return &Assembler{stagingRoot: stagingRoot, outputRoot: outputRoot}
}

// Assemble zips every done file task of the job and returns the archive
// reference. Entry paths follow <group-name>/<subgroup-name>/<file-name>
// as resolved at enumeration time (the task's target path). Failed
// tasks never contribute entries.
func (a *Assembler) Assemble(job *core.Job) (string, error) {
	var paths []string
	for _, task := range job.Files {
		if task.Status == core.FileDone {
			paths = append(paths, task.TargetPath)
		}
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("job %s has no completed files to assemble", job.ID)
	}
	sort.Strings(paths)

	if err := os.MkdirAll(a.outputRoot, 0o755); err != nil {
		return "", err
	}
	ref := job.ID + ".zip"
	final := filepath.Join(a.outputRoot, ref)
	tmp := final + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	stagingDir := filepath.Join(a.stagingRoot, job.ID)
	for _, p := range paths {
		if err := addEntry(zw, stagingDir, p); err != nil {
			zw.Close()
			out.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("archive entry %s: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return ref, nil
}

func addEntry(zw *zip.Writer, stagingDir, relPath string) error {
	src, err := os.Open(filepath.Join(stagingDir, filepath.FromSlash(relPath)))
	if err != nil {
		return err
	}
	defer src.Close()

	// Zero Modified keeps re-assembled archives byte-identical.
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   relPath,
		Method: zip.Deflate,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// Path returns the filesystem location of an archive reference.
func (a *Assembler) Path(ref string) string {
	return filepath.Join(a.outputRoot, filepath.Base(ref))
}

// Open opens an assembled archive for streaming to a client.
func (a *Assembler) Open(ref string) (*os.File, error) {
	return os.Open(a.Path(ref))
}

// Remove deletes an archive. Removing a missing archive is a no-op.
func (a *Assembler) Remove(ref string) error {
	if ref == "" {
		return nil
	}
	err := os.Remove(a.Path(ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
