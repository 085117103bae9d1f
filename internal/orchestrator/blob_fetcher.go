package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

// LocalBlobFetcher resolves an attachment_ref to a file under a base
// directory. File blob storage itself is out of scope (spec §1); this is
// the minimal adapter a deployment needs until it's replaced by whatever
// object store actually backs uploads in production.
type LocalBlobFetcher struct {
	baseDir string
}

// NewLocalBlobFetcher builds a LocalBlobFetcher rooted at baseDir.
func NewLocalBlobFetcher(baseDir string) *LocalBlobFetcher {
	return &LocalBlobFetcher{baseDir: baseDir}
}

// Fetch reads attachmentRef as a path relative to baseDir. It rejects any
// ref that would escape baseDir via "..".
func (f *LocalBlobFetcher) Fetch(ctx context.Context, attachmentRef string) ([]byte, string, error) {
	cleaned := filepath.Clean("/" + attachmentRef)
	fullPath := filepath.Join(f.baseDir, cleaned)

	blob, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, "", travelerrors.New("ORCH.blobFetch", travelerrors.KindDownstreamUnavailable, err)
	}

	return blob, filepath.Base(cleaned), nil
}
