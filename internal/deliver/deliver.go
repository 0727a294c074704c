// Package deliver hands a rendered agenda to its destination.
package deliver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"printcal/internal/config"
	appLog "printcal/internal/log"
	"printcal/internal/render"
)

// Deliverer sends one artifact to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, art render.Artifact) error
	// Destination describes where art goes, for logs and the run summary.
	Destination(art render.Artifact) string
}

// DatePlaceholder is replaced by the agenda date (YYYY-MM-DD) in file paths.
const DatePlaceholder = "{date}"

// FileDeliverer writes the artifact to a local path.
type FileDeliverer struct {
	pathTemplate string
}

// NewFileDeliverer returns a FileDeliverer for pathTemplate. A template that
// names an existing directory, or ends in a separator, receives the
// artifact name.
func NewFileDeliverer(pathTemplate string) *FileDeliverer {
	return &FileDeliverer{pathTemplate: pathTemplate}
}

// Destination implements Deliverer.
func (d *FileDeliverer) Destination(art render.Artifact) string {
	p := d.pathTemplate
	if !art.Day.IsZero() {
		p = strings.ReplaceAll(p, DatePlaceholder, art.Day.Format("2006-01-02"))
	}
	if strings.HasSuffix(p, string(os.PathSeparator)) || strings.HasSuffix(p, "/") {
		return filepath.Join(p, art.Name)
	}
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return filepath.Join(p, art.Name)
	}
	return p
}

// Deliver implements Deliverer. The write is atomic: readers see either the
// previous file or the complete new one.
func (d *FileDeliverer) Deliver(ctx context.Context, art render.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.Destination(art)
	if err := config.WriteFileAtomic(path, art.Data, 0o644); err != nil {
		return err
	}
	appLog.Info("agenda written", "path", path, "bytes", len(art.Data))
	return nil
}
