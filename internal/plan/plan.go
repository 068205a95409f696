// Package plan loads the list of files a sync pass should fetch.
package plan

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// Entry is one file in a plan
type Entry struct {
	Remote string `yaml:"remote"`
	Path   string `yaml:"path,omitempty"`
	Size   int64  `yaml:"size,omitempty"`
	Digest string `yaml:"digest,omitempty"`
}

// Plan is the YAML document produced by the planner
type Plan struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// Algorithm applies to bare digests and to the manifest
	Algorithm string `yaml:"algorithm,omitempty"`
	// Manifest is a checksum file, relative paths are resolved against the plan's directory
	Manifest string  `yaml:"manifest,omitempty"`
	Files    []Entry `yaml:"files"`
}

// Load reads a plan file
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Manifest != "" && !filepath.IsAbs(p.Manifest) {
		p.Manifest = filepath.Join(filepath.Dir(path), p.Manifest)
	}
	return p, nil
}

// Parse decodes a plan document
func Parse(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return &p, nil
		}
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return &p, nil
}

// DefaultAlgorithm returns the plan's algorithm, or "" for auto-detection
func (p *Plan) DefaultAlgorithm() (domain.Algorithm, error) {
	if p.Algorithm == "" {
		return "", nil
	}
	return domain.ParseAlgorithm(p.Algorithm)
}

// Descriptors converts the entries. Subpath safety is not checked here;
// the orchestrator rejects unsafe subpaths per file.
func (p *Plan) Descriptors() ([]domain.FileDescriptor, error) {
	algo, err := p.DefaultAlgorithm()
	if err != nil {
		return nil, err
	}

	out := make([]domain.FileDescriptor, 0, len(p.Files))
	for i, e := range p.Files {
		if strings.TrimSpace(e.Remote) == "" {
			return nil, fmt.Errorf("%w: files[%d]: remote is required", domain.ErrInvalidInput, i)
		}
		if e.Size < 0 {
			return nil, fmt.Errorf("%w: files[%d]: negative size", domain.ErrInvalidInput, i)
		}

		d := domain.FileDescriptor{
			Remote:       e.Remote,
			Subpath:      e.Path,
			ExpectedSize: e.Size,
		}
		if d.Subpath == "" {
			d.Subpath = defaultSubpath(e.Remote)
		}
		if e.Digest != "" {
			digest, err := domain.ParseDigest(e.Digest, algo)
			if err != nil {
				return nil, fmt.Errorf("files[%d] (%s): %w", i, d.Subpath, err)
			}
			d.Digest = &digest
		}
		out = append(out, d)
	}
	return out, nil
}

// defaultSubpath mirrors the remote path: the URL path for absolute URLs,
// the remote itself otherwise
func defaultSubpath(remote string) string {
	if u, err := url.Parse(remote); err == nil && u.IsAbs() {
		return strings.TrimPrefix(u.Path, "/")
	}
	return remote
}
