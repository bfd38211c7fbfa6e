package zdm

import (
	"context"

	"github.com/spainion/zdm/pkg/zdm/internal/manifest"
)

// downloadRangeMode runs the range-mode pipeline: initialize or load the
// piece table, pre-size the destination, verify previously-completed
// pieces, and dispatch the remaining pending pieces to the worker pool.
func (d *Downloader) downloadRangeMode(ctx context.Context, store *manifest.Store, fileSize int64) error {
	pieces, err := loadOrInitPieces(store, fileSize, d.pieceSize)
	if err != nil {
		return err
	}

	df, err := openRangeMode(d.dest, fileSize)
	if err != nil {
		return err
	}
	defer df.close()

	pieces, demoted, err := verifyPieces(df, pieces)
	if err != nil {
		return err
	}
	if err := persistDemotions(store, pieces, demoted); err != nil {
		return err
	}

	total := len(pieces)
	doneCount := 0
	for _, p := range pieces {
		if p.Status == StatusDone {
			doneCount++
		}
	}
	d.reportProgress(doneCount, total)

	if err := d.runWorkerPool(ctx, d.urls, pieces, df, store); err != nil {
		return err
	}
	d.reportProgress(total, total)
	return nil
}

// downloadSequentialMode runs the single-stream fallback: resume from the
// destination's existing size (or fully skip if every piece is already
// journaled done), stream the remainder to disk, then journal per-piece
// hashes against the completed file.
func (d *Downloader) downloadSequentialMode(ctx context.Context, store *manifest.Store, fileSize int64) error {
	pieces, err := loadOrInitPieces(store, fileSize, d.pieceSize)
	if err != nil {
		return err
	}

	if allDone(pieces) {
		d.reportProgress(len(pieces), len(pieces))
		return nil
	}

	df, existingSize, err := openSequentialMode(d.dest, fileSize)
	if err != nil {
		return err
	}
	defer df.close()

	if err := d.runSequential(ctx, d.urls[0], fileSize, df, existingSize); err != nil {
		return err
	}

	if err := journalSequentialPieces(df, pieces, store); err != nil {
		return err
	}
	d.reportProgress(len(pieces), len(pieces))
	return nil
}

// loadOrInitPieces returns the piece table for this destination, planning
// and persisting it on first use (gated by the manifest's
// "pieces_initialised" flag, so the planner runs exactly once per
// destination) or loading
// it back from the store on resume.
func loadOrInitPieces(store *manifest.Store, fileSize, pieceSize int64) ([]Piece, error) {
	v, ok, err := store.GetMeta("pieces_initialised")
	if err != nil {
		return nil, NewManifestError("read meta", err)
	}
	if ok && v == "1" {
		rows, err := store.LoadAll()
		if err != nil {
			return nil, NewManifestError("load pieces", err)
		}
		return rowsToPieces(rows), nil
	}

	pieces := planPieces(fileSize, pieceSize)
	for _, p := range pieces {
		row := manifest.Row{Index: p.Index, Start: p.Start, End: p.End, Status: manifest.StatusPending}
		if err := store.ReplacePiece(row); err != nil {
			return nil, NewManifestError("replace piece", err)
		}
	}
	if err := store.SetMeta("pieces_initialised", "1"); err != nil {
		return nil, NewManifestError("write meta", err)
	}
	return pieces, nil
}

func persistDemotions(store *manifest.Store, pieces []Piece, demoted []int) error {
	for _, i := range demoted {
		p := pieces[i]
		row := manifest.Row{Index: p.Index, Start: p.Start, End: p.End, Status: manifest.StatusPending}
		if err := store.ReplacePiece(row); err != nil {
			return NewManifestError("replace piece", err)
		}
	}
	return nil
}

func allDone(pieces []Piece) bool {
	for _, p := range pieces {
		if p.Status != StatusDone {
			return false
		}
	}
	return len(pieces) > 0
}

func rowsToPieces(rows []manifest.Row) []Piece {
	pieces := make([]Piece, len(rows))
	for i, r := range rows {
		status := StatusPending
		if r.Status == manifest.StatusDone {
			status = StatusDone
		}
		pieces[i] = Piece{
			Index:   r.Index,
			Start:   r.Start,
			End:     r.End,
			SHA256:  r.SHA256,
			Status:  status,
			LastURL: r.LastURL,
		}
	}
	return pieces
}
