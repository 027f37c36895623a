package memory

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Size is an amount of memory in bytes, used when constraining the compiler
// containers.
type Size int64

const (
	Byte     Size = 1
	Kilobyte      = 1024 * Byte
	Megabyte      = 1024 * Kilobyte
	Gigabyte      = 1024 * Megabyte
)

func (s Size) Bytes() int64 { return int64(s) }

func (s Size) Kilobytes() int64 { return int64(s) / int64(Kilobyte) }

func (s Size) Megabytes() int64 { return int64(s) / int64(Megabyte) }

func (s Size) Gigabytes() int64 { return int64(s) / int64(Gigabyte) }

// String renders the size in IEC units, e.g. 512 MiB.
func (s Size) String() string {
	if s < 0 {
		return "0 B"
	}

	return humanize.IBytes(uint64(s))
}

// Set implements flag.Value so sizes can be passed as "512MiB" or "1gb".
func (s *Size) Set(value string) error {
	parsed, err := Parse(value)

	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// Parse reads a human readable size. Both SI (MB) and IEC (MiB) suffixes are
// understood, a bare number is treated as bytes.
func Parse(value string) (Size, error) {
	bytes, err := humanize.ParseBytes(value)

	if err != nil {
		return 0, errors.Wrapf(err, "invalid memory size %q", value)
	}

	return Size(bytes), nil
}
