package zdm

import (
	"crypto/sha256"
	"encoding/hex"
)

// verifyPieces walks pieces already marked done and re-hashes their bytes
// from the destination. A mismatch demotes the piece to pending and clears
// its hash; this catches corruption introduced between runs and recovers
// from a completion that was journaled but never fully flushed.
func verifyPieces(df *destFile, pieces []Piece) (out []Piece, demoted []int, err error) {
	out = make([]Piece, len(pieces))
	copy(out, pieces)
	for i, p := range out {
		if p.Status != StatusDone || p.SHA256 == "" {
			continue
		}
		sum, err := hashRange(df, p.Start, p.Size())
		if err != nil {
			return nil, nil, err
		}
		if sum != p.SHA256 {
			out[i].Status = StatusPending
			out[i].SHA256 = ""
			demoted = append(demoted, i)
		}
	}
	return out, demoted, nil
}

func hashRange(df *destFile, start, size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := df.readAt(buf, start); err != nil {
		return "", NewLocalIOError("read", err)
	}
	return hashBytes(buf), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
