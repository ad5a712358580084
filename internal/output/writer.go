// Package output writes generated configurations to disk.
package output

import (
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Kind selects a destination.
type Kind string

const (
	// KindRun is the runtime file the proxy core loads.
	KindRun Kind = "run"
	// KindCheck is a scratch file used to validate a configuration.
	KindCheck Kind = "check"
)

// Headers written at the top of generated files.
const (
	GeneratedHeader = "Generated by clashchain"
	FallbackHeader  = "Clash Runtime"
)

// Writer serializes documents to the run or check path.
type Writer struct {
	RunPath   string
	CheckPath string
}

// NewWriter returns a writer for the two destinations.
func NewWriter(runPath, checkPath string) *Writer {
	return &Writer{RunPath: runPath, CheckPath: checkPath}
}

// Path returns the destination for kind.
func (w *Writer) Path(kind Kind) (string, error) {
	switch kind {
	case KindRun:
		return w.RunPath, nil
	case KindCheck:
		return w.CheckPath, nil
	default:
		return "", ferrors.ValidationError("unknown output kind").WithContext("kind", string(kind)).Build()
	}
}

// Write serializes doc with the generated header and returns the path written.
func (w *Writer) Write(kind Kind, doc *document.Document) (string, error) {
	return w.WriteWithHeader(kind, doc, GeneratedHeader)
}

// WriteWithHeader is Write with a caller supplied header comment.
func (w *Writer) WriteWithHeader(kind Kind, doc *document.Document, header string) (string, error) {
	path, err := w.Path(kind)
	if err != nil {
		return "", err
	}
	data, err := doc.Marshal(header)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteRaw writes data unchanged to the destination for kind.
func (w *Writer) WriteRaw(kind Kind, data []byte) (string, error) {
	path, err := w.Path(kind)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Exists reports whether the destination for kind is already present.
func (w *Writer) Exists(kind Kind) bool {
	path, err := w.Path(kind)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create output directory").
			WithContext("path", filepath.Dir(path)).
			Build()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create temporary file").
			WithContext("path", path).
			Build()
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write output").
			WithContext("path", path).
			Build()
	}
	if err := tmp.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write output").
			WithContext("path", path).
			Build()
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to set output permissions").
			WithContext("path", path).
			Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace output").
			WithContext("path", path).
			Build()
	}
	return nil
}
