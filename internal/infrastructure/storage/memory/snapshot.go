package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poscore/internal/core/docstore"
	"poscore/internal/infrastructure/codec"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version     int                           `json:"version"`
	Collections map[string]snapshotCollection `json:"collections"`
}

type snapshotCollection struct {
	Seq         int64                `json:"seq"`
	Docs        []*docstore.Envelope `json:"docs"`
	Checkpoints map[string]int64     `json:"checkpoints,omitempty"`
}

// snapshotter writes the whole store to a single compressed file.
// Writes go to a temporary file that is renamed over the target.
type snapshotter struct {
	path string

	once  sync.Once
	codec *codec.Zstd
	err   error
}

func (s *snapshotter) zstd() (*codec.Zstd, error) {
	s.once.Do(func() {
		s.codec, s.err = codec.NewZstd()
	})
	return s.codec, s.err
}

func (s *snapshotter) save(store *Store) error {
	z, err := s.zstd()
	if err != nil {
		return err
	}

	file := snapshotFile{
		Version:     snapshotVersion,
		Collections: make(map[string]snapshotCollection, len(store.collections)),
	}
	for name, c := range store.collections {
		docs := make([]*docstore.Envelope, 0, len(c.docs))
		for _, doc := range c.docs {
			docs = append(docs, doc)
		}
		file.Collections[name] = snapshotCollection{Seq: c.seq, Docs: docs, Checkpoints: c.checkpoints}
	}

	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(z.Encode(raw)); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *snapshotter) restore(store *Store) error {
	compressed, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	z, err := s.zstd()
	if err != nil {
		return err
	}
	raw, err := z.Decode(compressed)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", file.Version)
	}

	for name, snap := range file.Collections {
		c, ok := store.collections[name]
		if !ok {
			// Collections dropped from configuration are not resurrected.
			continue
		}
		c.seq = snap.Seq
		for _, doc := range snap.Docs {
			c.docs[doc.ID] = doc
		}
		for key, seq := range snap.Checkpoints {
			c.checkpoints[key] = seq
		}
	}
	return nil
}
