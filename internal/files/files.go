package files

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("file not found")

type File struct {
	ID   string
	Name string
	Data []byte
}

// Files stores the artifacts of finished compilations, grouped by the id of
// the compilation.
type Files interface {
	WriteFile(file *File) error
	WriteFiles(files ...*File) error
	GetFile(id string, name string) ([]byte, error)
}

type LocalConfig struct {
	LocalRootPath string
}

type S3Config struct {
	BucketName string
}

type Config struct {
	Local *LocalConfig
	S3    *S3Config
	// ForceLocalMode writes to disk even when a bucket is configured.
	ForceLocalMode bool
}

// NewFilesHandler returns the S3 handler when a bucket is configured and the
// local handler otherwise.
func NewFilesHandler(config *Config) (Files, error) {
	if config.ForceLocalMode || config.S3 == nil || config.S3.BucketName == "" {
		return newLocalFiles(config.Local)
	}

	return newS3Files(config.S3)
}

// writeConcurrently writes every file on its own goroutine, collecting all
// failures.
func writeConcurrently(write func(*File) error, files []*File) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)

	for _, file := range files {
		wg.Add(1)

		go func(file *File) {
			defer wg.Done()

			if err := write(file); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(file)
	}

	wg.Wait()
	return errs.ErrorOrNil()
}
