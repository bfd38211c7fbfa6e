package zdm

import (
	"testing"

	"github.com/spainion/zdm/pkg/zdm/internal/manifest"
)

func openTestManifest(t *testing.T, dest string) *manifest.Store {
	t.Helper()
	s, err := manifest.Open(dest + ".zdm.db")
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	return s
}

func manifestRow(idx int, start, end int64, sha256, status, lastURL string) manifest.Row {
	st := manifest.StatusPending
	if status == "done" {
		st = manifest.StatusDone
	}
	return manifest.Row{
		Index:   idx,
		Start:   start,
		End:     end,
		SHA256:  sha256,
		Status:  st,
		LastURL: lastURL,
	}
}
