package files

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type LocalFiles struct {
	config *LocalConfig
}

// newLocalFiles is the handler used during development to write the
// artifacts to disk instead of a S3 bucket.
func newLocalFiles(config *LocalConfig) (*LocalFiles, error) {
	if config == nil || config.LocalRootPath == "" {
		return nil, errors.New("local files require a root path")
	}

	if err := os.MkdirAll(config.LocalRootPath, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to make required directories")
	}

	return &LocalFiles{config: config}, nil
}

func (l *LocalFiles) WriteFile(file *File) error {
	folderDirectory := filepath.Join(l.config.LocalRootPath, file.ID)
	filePath := filepath.Join(folderDirectory, file.Name)

	if err := os.MkdirAll(folderDirectory, 0o750); err != nil {
		return errors.Wrap(err, "failed to make required directories")
	}

	writeFile, writeFileErr := os.Create(filePath)

	if writeFileErr != nil {
		return errors.Wrapf(writeFileErr, "failed to create %s file", file.Name)
	}

	defer writeFile.Close()

	if _, writeErr := writeFile.Write(file.Data); writeErr != nil {
		return errors.Wrapf(writeErr, "failed to write %s", file.Name)
	}

	return nil
}

func (l *LocalFiles) WriteFiles(files ...*File) error {
	return writeConcurrently(l.WriteFile, files)
}

func (l *LocalFiles) GetFile(id string, name string) ([]byte, error) {
	filePath := filepath.Join(l.config.LocalRootPath, id, name)

	data, err := os.ReadFile(filePath)

	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "cannot locate file %s for %s", name, id)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to get the local file %s by id %s", name, id)
	}

	return data, nil
}
