package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/retrago/retrago/snapshot"
)

// snapshotFiles are the files replicated per snapshot, manifest last so a
// remote snapshot with a manifest is always complete.
var snapshotFiles = []string{
	snapshot.MatrixFileName,
	snapshot.IDMapFileName,
	snapshot.ChunksFileName,
	snapshot.ManifestFileName,
}

// Push uploads a published snapshot to dst under "<id>/". The manifest is
// uploaded last, so a reader that sees the manifest sees the whole snapshot.
func Push(ctx context.Context, dst Store, store *snapshot.Store, id string) error {
	dir := store.Path(id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("push %q: %w", id, err)
	}

	for _, name := range snapshotFiles {
		if err := pushFile(ctx, dst, filepath.Join(dir, name), path.Join(id, name)); err != nil {
			return fmt.Errorf("push %q: %s: %w", id, name, err)
		}
	}
	return nil
}

func pushFile(ctx context.Context, dst Store, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := dst.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Pull downloads snapshot id from src into store and publishes it, making it
// the current snapshot. The download goes through the store's staging area,
// so a failed pull leaves no visible snapshot.
func Pull(ctx context.Context, src Store, store *snapshot.Store, id string) error {
	dir, err := store.Begin(id)
	if err != nil {
		return err
	}
	published := false
	defer func() {
		if !published {
			store.Discard(id)
		}
	}()

	for _, name := range snapshotFiles {
		if err := pullFile(ctx, src, path.Join(id, name), filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("pull %q: %s: %w", id, name, err)
		}
	}

	// Verify before publishing; a corrupt download must not become current.
	snap, err := snapshot.Open(dir)
	if err != nil {
		return fmt.Errorf("pull %q: %w", id, err)
	}
	snap.Close()

	if err := store.Publish(id); err != nil {
		return err
	}
	published = true
	return nil
}

func pullFile(ctx context.Context, src Store, key, dest string) error {
	blob, err := src.Open(ctx, key)
	if err != nil {
		return err
	}
	defer blob.Close()

	r, err := blob.Reader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SetCurrent points the remote CURRENT pointer at snapshot id.
func SetCurrent(ctx context.Context, dst Store, id string) error {
	return dst.Put(ctx, snapshot.CurrentFileName, []byte(id+"\n"))
}

// CurrentID reads the remote CURRENT pointer.
func CurrentID(ctx context.Context, src Store) (string, error) {
	blob, err := src.Open(ctx, snapshot.CurrentFileName)
	if err != nil {
		return "", err
	}
	defer blob.Close()

	r, err := blob.Reader(ctx)
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

// ListSnapshots returns the ids of all complete remote snapshots, i.e. those
// with a manifest present.
func ListSnapshots(ctx context.Context, src Store) ([]string, error) {
	names, err := src.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		dir, file := path.Split(name)
		if file == snapshot.ManifestFileName && dir != "" {
			ids = append(ids, strings.TrimSuffix(dir, "/"))
		}
	}
	return ids, nil
}
