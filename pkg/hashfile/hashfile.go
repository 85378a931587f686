// Package hashfile implements the streaming content hasher (§4.5, C5) used
// by the diff engine's optional checksum comparison and by verify-after-copy.
// Algorithm selection and streaming-with-cancellation follow the same shape
// as the teacher's own digest package (pkg/synchronization/hashing), but adds
// xxHash64 — a non-cryptographic algorithm absent from the teacher's choices
// (md5/sha1/sha256/xxh128) but explicitly required by this spec for
// change-detection-only use — sourced from syncthing/syncthing, which already
// depends on cespare/xxhash for its block hashing.
package hashfile

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/duallayer/hybridfs/pkg/enginerr"
)

// Algorithm identifies which digest to compute.
type Algorithm string

const (
	MD5      Algorithm = "md5"
	SHA256   Algorithm = "sha256"
	XXHash64 Algorithm = "xxhash64"
)

func (a Algorithm) newHasher() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash64:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", a)
	}
}

// DefaultBufferSize is the streaming read buffer size (§6.4 sync.bufferSize
// default).
const DefaultBufferSize = 1 << 20 // 1 MiB

// ErrCancelled is returned when ctx is cancelled mid-hash.
var ErrCancelled = enginerr.New(enginerr.KindCancelled, "hashing cancelled")

// File streams path through algorithm's hasher in bufferSize chunks
// (bufferSize<=0 uses DefaultBufferSize), checking ctx between chunks so
// large files don't block cancellation for long.
func File(ctx context.Context, path string, algorithm Algorithm, bufferSize int) (string, error) {
	hasher, err := algorithm.newHasher()
	if err != nil {
		return "", err
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unable to open file for hashing: %w", err)
	}
	defer f.Close()

	buffer := make([]byte, bufferSize)
	for {
		select {
		case <-ctx.Done():
			return "", ErrCancelled
		default:
		}

		n, err := f.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("unable to read file for hashing: %w", err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Result pairs a path with its digest, or an error isolated to that file.
type Result struct {
	Path     string
	Checksum string
	Err      error
}

// FilesParallel hashes paths with bounded concurrency (default 4, §6.4
// sync.parallelOps) via a limited errgroup. A per-file failure is isolated
// into that file's Result (Checksum=="" , Err set) rather than returned from
// the group, so one bad file never cancels the rest of the batch, per §4.5.
func FilesParallel(ctx context.Context, paths []string, algorithm Algorithm, parallelism int, bufferSize int) []Result {
	if parallelism <= 0 {
		parallelism = 4
	}

	results := make([]Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			checksum, err := File(gctx, p, algorithm, bufferSize)
			results[i] = Result{Path: p, Checksum: checksum, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
