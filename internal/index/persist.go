package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// snapshotVersion guards the on-disk format. A mismatch on load is a
// corrupt snapshot, never silently served from.
const snapshotVersion = 1

// persistedDoc is the on-disk form of a live document entry.
type persistedDoc struct {
	Terms  map[string]int
	Length int
}

// persistedIndex is the on-disk snapshot. Tombstoned documents are
// dropped at save time.
type persistedIndex struct {
	Version int
	Config  Config
	Epoch   uint64
	Docs    map[string]persistedDoc
}

// Save writes the index atomically: temp file in the target directory,
// then rename. A crash mid-save leaves the previous snapshot intact.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	p := persistedIndex{
		Version: snapshotVersion,
		Config:  ix.cfg,
		Epoch:   ix.epoch,
		Docs:    make(map[string]persistedDoc, len(ix.docs)),
	}
	for id, e := range ix.docs {
		if e.tombstoned {
			continue
		}
		p.Docs[id] = persistedDoc{Terms: e.terms, Length: e.length}
	}
	ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := gob.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	return nil
}

// Load replaces the index contents from a snapshot file. A snapshot
// that cannot be decoded, or whose version is unknown, fails loudly
// with ErrCorruptSnapshot; the engine must not serve from a partial
// index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p persistedIndex
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("decode lexical snapshot %s: %v", path, err),
			rferrors.ErrCorruptSnapshot)
	}
	if p.Version != snapshotVersion {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("lexical snapshot %s: unsupported version %d", path, p.Version),
			rferrors.ErrCorruptSnapshot)
	}

	ix := New(p.Config)
	ix.mu.Lock()
	for id, d := range p.Docs {
		ix.docs[id] = &docEntry{terms: d.Terms, length: d.Length}
	}
	ix.epoch = p.Epoch
	ix.dirty = len(p.Docs) > 0
	ix.mu.Unlock()
	return ix, nil
}
