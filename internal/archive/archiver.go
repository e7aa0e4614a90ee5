package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// ChunkArchiver exports published chunks to object storage and restores
// them. Each chunk becomes one object: a tar of its column files wrapped
// in a snappy stream. Archiving never mutates the source chunk, and a
// restore publishes with the same temp-then-rename discipline as a fresh
// write, so a half-restored chunk is never visible.
type ChunkArchiver struct {
	store   *chunk.Store
	storage ObjectStorage
	workDir string
}

// NewChunkArchiver creates an archiver over the given store and cold tier.
// workDir holds staging files; os.TempDir is used when empty.
func NewChunkArchiver(store *chunk.Store, storage ObjectStorage, workDir string) *ChunkArchiver {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ChunkArchiver{store: store, storage: storage, workDir: workDir}
}

// ObjectPath returns the cold-tier path a chunk archives to.
func (a *ChunkArchiver) ObjectPath(id types.ChunkID) string {
	return fmt.Sprintf("chunks/%s.tar.sz", id)
}

// Archive exports a published chunk to object storage.
func (a *ChunkArchiver) Archive(ctx context.Context, id types.ChunkID) error {
	staging := filepath.Join(a.workDir, fmt.Sprintf("tessera-archive-%s", uuid.New().String()[:8]))
	defer os.Remove(staging)

	if err := a.pack(a.store.ChunkDir(id), staging); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to pack chunk %s", id), err)
	}
	if err := a.storage.Upload(ctx, staging, a.ObjectPath(id)); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload chunk %s", id), err)
	}
	return nil
}

// Restore downloads an archived chunk and publishes it into the store. A
// chunk already present locally is left untouched.
func (a *ChunkArchiver) Restore(ctx context.Context, id types.ChunkID) error {
	if _, err := os.Stat(a.store.ChunkDir(id)); err == nil {
		return nil
	}

	staging := filepath.Join(a.workDir, fmt.Sprintf("tessera-restore-%s", uuid.New().String()[:8]))
	defer os.Remove(staging)

	if err := a.storage.Download(ctx, a.ObjectPath(id), staging); err != nil {
		if err == ErrObjectNotFound {
			return errors.NewStorageError(errors.CodeObjectNotFound,
				fmt.Sprintf("chunk %s is not archived", id), err)
		}
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to download chunk %s", id), err)
	}

	tmp := filepath.Join(filepath.Dir(a.store.ChunkDir(id)), fmt.Sprintf(".tmp-%s", uuid.New().String()[:8]))
	defer os.RemoveAll(tmp)

	if err := a.unpack(staging, tmp); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to unpack chunk %s", id), err)
	}
	if err := os.Rename(tmp, a.store.ChunkDir(id)); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to publish restored chunk %s", id), err)
	}
	return nil
}

// Drop removes a chunk's archive object.
func (a *ChunkArchiver) Drop(ctx context.Context, id types.ChunkID) error {
	if err := a.storage.Delete(ctx, a.ObjectPath(id)); err != nil {
		return errors.NewStorageError(errors.CodeUnexpected,
			fmt.Sprintf("failed to delete archive of chunk %s", id), err)
	}
	return nil
}

// Archived reports whether a chunk has an archive object.
func (a *ChunkArchiver) Archived(ctx context.Context, id types.ChunkID) (bool, error) {
	return a.storage.Exists(ctx, a.ObjectPath(id))
}

// ListArchived returns the IDs of all archived chunks.
func (a *ChunkArchiver) ListArchived(ctx context.Context) ([]types.ChunkID, error) {
	paths, err := a.storage.ListObjects(ctx, "chunks/")
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeUnexpected, "failed to list archive objects", err)
	}
	var ids []types.ChunkID
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".tar.sz")
		id, err := types.ParseChunkID(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// pack writes the chunk directory as a snappy-compressed tar stream.
func (a *ChunkArchiver) pack(chunkDir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	sw := snappy.NewBufferedWriter(out)
	tw := tar.NewWriter(sw)

	err = filepath.Walk(chunkDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(chunkDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := sw.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// unpack expands a snappy-compressed tar stream into destDir.
func (a *ChunkArchiver) unpack(src, destDir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tr := tar.NewReader(snappy.NewReader(in))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("archive entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
}
