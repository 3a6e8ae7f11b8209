package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/finimport/internal/scanner"
)

// collectInputs scans each argument (file or directory) and reads the
// statement files in submission order. The account flag beats the
// directory-derived hint, which beats the configured default.
func collectInputs(args []string, format, account, defaultAccount string) ([]pipeline.FileInput, error) {
	var inputs []pipeline.FileInput
	for _, arg := range args {
		files, err := scanner.New(arg).Scan()
		if err != nil {
			return nil, err
		}
		// Prefix with the directory name so files from different roots
		// stay distinguishable.
		prefix := ""
		if len(args) > 1 {
			if info, err := os.Stat(arg); err == nil && info.IsDir() {
				prefix = filepath.Base(filepath.Clean(arg))
			}
		}
		for _, f := range files {
			content, err := f.Content()
			if err != nil {
				return nil, err
			}

			name := path.Join(prefix, f.RelPath)

			hint := account
			if hint == "" {
				hint = f.AccountHint
			}
			if hint == "" {
				hint = defaultAccount
			}

			inputs = append(inputs, pipeline.FileInput{
				Filename:    name,
				Content:     content,
				Format:      format,
				AccountHint: hint,
			})
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no statement files found (supported extensions: %v)", scanner.Extensions)
	}
	return inputs, nil
}
