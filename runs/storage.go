package runs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrIO marks artifact persistence failures.
var ErrIO = errors.New("io error")

func (d *Directory) fullpath(name string) string {
	return filepath.Join(d.Path, name)
}

// Write replaces the artifact name with data.
func (d *Directory) Write(name string, data io.Reader) error {
	return d.writeData(name, data, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

// Append adds data to the end of the artifact name.
func (d *Directory) Append(name string, data io.Reader) error {
	return d.writeData(name, data, os.O_RDWR|os.O_CREATE|os.O_APPEND)
}

func (d *Directory) writeBytes(name string, data []byte) error {
	return d.Write(name, bytes.NewReader(data))
}

func (d *Directory) writeData(name string, data io.Reader, flags int) error {
	fullpath := d.fullpath(name)

	err := os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating parent directory", "path", fullpath, "error", err)
		return fmt.Errorf("%w: creating parent directory %v: %v", ErrIO, name, err)
	}

	file, err := os.OpenFile(fullpath, flags, 0666)
	if err != nil {
		slog.Error("error opening file for writing", "path", fullpath, "error", err)
		return fmt.Errorf("%w: opening file %v: %v", ErrIO, name, err)
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	if err != nil {
		slog.Error("error writing to file", "path", fullpath, "error", err)
		return fmt.Errorf("%w: writing to file %v: %v", ErrIO, name, err)
	}

	return nil
}

// Read opens the artifact name.
func (d *Directory) Read(name string) (io.ReadCloser, error) {
	fullpath := d.fullpath(name)
	file, err := os.Open(fullpath)
	if err != nil {
		slog.Error("error opening file for read", "path", fullpath, "error", err)
		return nil, fmt.Errorf("%w: reading file %v: %v", ErrIO, name, err)
	}
	return file, nil
}

func (d *Directory) Exists(name string) (bool, error) {
	_, err := os.Stat(d.fullpath(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: checking if %v exists: %v", ErrIO, name, err)
}
