// Package envstore persists the environment snapshot as a fixed set of JSON
// documents in the run directory. Documents are published atomically and all
// together: a reader either sees the complete previous dump or the complete
// new one, never a mix.
package envstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/osinstall/osinstall/internal/environment"
)

// Document names, stored as <name>.json in the run directory.
const (
	LocaleDocument = "locale-info"
	IsoDocument    = "iso-info"
	RunEnvDocument = "run-env-info"
)

type Store struct {
	dir  string
	perm os.FileMode
}

func New(dir string, perm os.FileMode) *Store {
	return &Store{dir, perm}
}

// Path returns the location of a published document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Read unmarshals a published document into document. Returns false without
// an error when the document (or the whole run directory) does not exist.
func (s *Store) Read(name string, document interface{}) (bool, error) {
	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, document); err != nil {
		return false, fmt.Errorf("error parsing document %s: %w", name, err)
	}
	return true, nil
}

// ReadSnapshot loads all three documents back into a snapshot. Returns false
// without an error when any of them is missing.
func (s *Store) ReadSnapshot() (*environment.Snapshot, bool, error) {
	var snapshot environment.Snapshot
	var isoDoc environment.IsoDocument

	for _, part := range []struct {
		name     string
		document interface{}
	}{
		{LocaleDocument, &snapshot.Locales},
		{IsoDocument, &isoDoc},
		{RunEnvDocument, &snapshot.Runtime},
	} {
		exists, err := s.Read(part.name, part.document)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, nil
		}
	}

	snapshot.Iso = isoDoc.Iso
	snapshot.Product = isoDoc.Product
	snapshot.Locations = isoDoc.Locations
	return &snapshot, true, nil
}

// Publish writes the snapshot as the three run-directory documents. All
// documents are staged to temporary files first and renamed into place only
// once every stage succeeded, so a failure leaves previously published
// documents untouched.
func (s *Store) Publish(snapshot *environment.Snapshot) error {
	return s.publish([]namedDocument{
		{LocaleDocument, snapshot.Locales},
		{IsoDocument, environment.IsoDocument{
			Iso:       snapshot.Iso,
			Product:   snapshot.Product,
			Locations: snapshot.Locations,
		}},
		{RunEnvDocument, snapshot.Runtime},
	})
}

type namedDocument struct {
	name     string
	document interface{}
}

func (s *Store) publish(documents []namedDocument) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("cannot create run directory %s: %w", s.dir, err)
	}

	staged := make([]string, 0, len(documents))
	unstage := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}

	for _, doc := range documents {
		tmp, err := s.stage(doc)
		if err != nil {
			unstage()
			return err
		}
		staged = append(staged, tmp)
	}

	for i, doc := range documents {
		if err := os.Rename(staged[i], s.Path(doc.name)); err != nil {
			unstage()
			return fmt.Errorf("error publishing document %s: %w", doc.name, err)
		}
	}
	return nil
}

// stage serializes one document into a temporary file next to its final
// location and returns the temporary name.
func (s *Store) stage(doc namedDocument) (string, error) {
	tmpName, err := stageFile(s.dir, s.perm, func(f *os.File) error {
		return encodeDocument(f, doc.document)
	})
	if err != nil {
		return "", fmt.Errorf("error staging document %s: %w", doc.name, err)
	}
	return tmpName, nil
}

// encodeDocument writes the canonical serialization: two-space indented JSON
// with a trailing newline. Struct fields keep their declaration order and Go
// sorts map keys, so dumps of an unchanged environment are byte-identical.
func encodeDocument(f *os.File, document interface{}) error {
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(document)
}

// WriteFileAtomically writes a file into dir through a temporary name and
// renames it into place only when the callback succeeded. No temporary file
// survives an error. Anything else landing in the run directory should go
// through this too.
func WriteFileAtomically(dir, filename string, perm os.FileMode, writer func(f *os.File) error) error {
	tmpName, err := stageFile(dir, perm, writer)
	if err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, filename))
}

// stageFile fills a temporary file in dir through the callback, syncs and
// chmods it and returns its name for the caller to rename into place. On
// error the temporary file is removed.
func stageFile(dir string, perm os.FileMode, writer func(f *os.File) error) (string, error) {
	tmpfile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}

	fail := func(err error) (string, error) {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
		return "", err
	}

	if err := writer(tmpfile); err != nil {
		return fail(err)
	}
	if err := tmpfile.Sync(); err != nil {
		return fail(err)
	}
	if err := tmpfile.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmpfile.Close(); err != nil {
		os.Remove(tmpfile.Name())
		return "", err
	}
	return tmpfile.Name(), nil
}
