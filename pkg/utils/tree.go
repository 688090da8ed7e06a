package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// WriteStructureFile writes a text listing of targetDir to outputFilePath.
// The output file itself is skipped if it lives inside targetDir.
func WriteStructureFile(targetDir, outputFilePath string, log *logrus.Entry) error {
	info, err := os.Stat(targetDir)
	if err != nil {
		return fmt.Errorf("%w: stat '%s': %w", ErrFilesystem, targetDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: '%s' is not a directory", ErrFilesystem, targetDir)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	skip, _ := filepath.Abs(outputFilePath)
	if err := WriteStructure(w, targetDir, skip, log); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	return nil
}

// WriteStructure renders the directory tree rooted at dir into w.
func WriteStructure(w io.Writer, dir, skipAbs string, log *logrus.Entry) error {
	if _, err := fmt.Fprintf(w, "%s/\n", filepath.Base(dir)); err != nil {
		return err
	}
	return writeLevel(w, dir, "", skipAbs, log)
}

func writeLevel(w io.Writer, dir, indent, skipAbs string, log *logrus.Entry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dir, err)
		return fmt.Errorf("%w: read dir '%s': %w", ErrFilesystem, dir, err)
	}
	entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool {
		abs, _ := filepath.Abs(filepath.Join(dir, e.Name()))
		return abs == skipAbs
	})

	// Directories first, then case-insensitive by name
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		last := i == len(entries)-1
		connector, next := entryPrefix, indent+verticalLine
		if last {
			connector, next = lastEntryPrefix, indent+indentPrefix
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, entry.Name()); err != nil {
			return err
		}
		if entry.IsDir() {
			if err := writeLevel(w, filepath.Join(dir, entry.Name()), next, skipAbs, log); err != nil {
				return err
			}
		}
	}
	return nil
}
