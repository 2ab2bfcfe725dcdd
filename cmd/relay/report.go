package main

import (
	"encoding/json"
	"fmt"
	"os"

	fsbilly "github.com/forgekit/relay/fs/billy"
	"github.com/forgekit/relay/pipeline"
)

// writeReport serializes the run report as indented JSON to path, or to
// stdout when no path is given.
func writeReport(fsys *fsbilly.FS, path string, report *pipeline.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run report %s: %w", path, err)
	}
	return nil
}
