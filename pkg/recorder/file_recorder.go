package recorder

import (
	"bufio"
	"fmt"
	"os"
)

// SaveFile exports rec to path, replacing any existing file
func SaveFile(path string, rec Recording, opts Options) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := Export(f, rec, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// LoadFile imports the recording stored at path
func LoadFile(path string, opts Options) (Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return Recording{}, err
	}
	defer f.Close()

	rec, err := Import(bufio.NewReader(f), opts)
	if err != nil {
		return Recording{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}
