package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/fugueterm/fugue/internal/session"
)

// checkpointVersion permits future schema evolution.
const checkpointVersion = 1

// checkpointFile is the decoded shape of one checkpoint: a version byte,
// the WAL sequence number it supersedes (so recovery knows which WAL
// entries are already captured), and the full model snapshot.
type checkpointFile struct {
	Version  uint8                `cbor:"1,keyasint"`
	WALSeq   uint64               `cbor:"2,keyasint"`
	Snapshot session.ModelSnapshot `cbor:"3,keyasint"`
}

// Checkpoint writes a new numbered snapshot of snap to
// <dir>/checkpoints/NNNN.snap, via the same tmp-write-then-fsync-then-
// rename sequence the teacher's self-update command uses for replacing
// its own binary. Once the rename completes, the
// WAL is truncated back to empty: every entry it held is now redundant
// with the checkpoint.
func (h *StoreHandle) Checkpoint(snap session.ModelSnapshot) error {
	h.mu.Lock()
	seq := h.nextSeq
	h.ckptSeq++
	num := h.ckptSeq
	h.mu.Unlock()

	cf := checkpointFile{Version: checkpointVersion, WALSeq: seq, Snapshot: snap}
	body, err := cbor.Marshal(cf)
	if err != nil {
		return fmt.Errorf("persist: encode checkpoint: %w", err)
	}

	finalPath := filepath.Join(h.ckptDir, fmt.Sprintf("%04d.snap", num))
	tmpPath := finalPath + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persist: create checkpoint tmp: %w", err)
	}
	if err := writeFrame(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: fsync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("persist: rename checkpoint: %w", err)
	}
	if dirf, err := os.Open(h.ckptDir); err == nil {
		dirf.Sync()
		dirf.Close()
	}

	return h.truncateWAL()
}

// truncateWAL resets the WAL to empty now that a checkpoint captures
// everything it held. Called with h.mu already free (Checkpoint released
// it before calling in); truncateWAL takes it again for the file swap.
func (h *StoreHandle) truncateWAL() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.walFile.Truncate(0); err != nil {
		return fmt.Errorf("persist: truncate wal: %w", err)
	}
	if _, err := h.walFile.Seek(0, 0); err != nil {
		return fmt.Errorf("persist: seek wal: %w", err)
	}
	return h.walFile.Sync()
}

// latestValidCheckpoint loads the newest checkpoint in ckptDir whose
// checksum validates, falling back to progressively older ones on
// corruption. Returns ok=false if none validate.
func latestValidCheckpoint(ckptDir string) (checkpointFile, bool) {
	entries, err := os.ReadDir(ckptDir)
	if err != nil {
		return checkpointFile{}, false
	}
	var nums []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%04d.snap", &n); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nums)))

	for _, n := range nums {
		path := filepath.Join(ckptDir, fmt.Sprintf("%04d.snap", n))
		cf, err := readCheckpointFile(path)
		if err != nil {
			continue
		}
		return cf, true
	}
	return checkpointFile{}, false
}

func readCheckpointFile(path string) (checkpointFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return checkpointFile{}, err
	}
	defer f.Close()
	body, err := readFrame(f)
	if err != nil {
		return checkpointFile{}, err
	}
	var cf checkpointFile
	if err := cbor.Unmarshal(body, &cf); err != nil {
		return checkpointFile{}, err
	}
	return cf, nil
}
