package fsmgr

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/syncwerk/syncwerk-server/internal/blockmgr"
	"github.com/syncwerk/syncwerk-server/internal/chunker"
	"github.com/syncwerk/syncwerk-server/internal/syncwerkerr"
)

// IndexOptions controls IndexBlocks (spec §4.3).
type IndexOptions struct {
	// UseCDC selects content-defined chunking (legacy default: target 8
	// MiB, min 6 MiB, max 10 MiB). When false, fixed-size chunking is used
	// (the default for v1 repos), which is trivially parallelizable.
	UseCDC bool
	// FixedBlockSize is used when UseCDC is false.
	FixedBlockSize int64
	// MaxIndexingThreads bounds the fixed-size worker pool.
	MaxIndexingThreads int
	// Adaptive, when set, replaces the legacy fixed CDC target/min/max with
	// sizes derived from the measured throughput of this store's own block
	// writes: a storage backend with consistently fast commits gets bigger
	// target chunks (fewer objects, less per-block overhead), a slow one
	// gets smaller ones. IndexBlocks feeds the measured write throughput of
	// each call back into it, so sizing adapts call over call.
	Adaptive *chunker.AdaptiveChunker
}

// cdcMin, cdcAvg and cdcMax are the legacy min/avg/max for content-defined chunking.
const (
	cdcMin = 6 << 20
	cdcAvg = 8 << 20
	cdcMax = 10 << 20
)

// IndexBlocks chunks a local file into blocks, writes each block through
// blocks, and returns the resulting file manifest id and total size. An
// empty file short-circuits to the reserved empty id without touching
// storage. When the repo is encrypted, callers are expected to have already
// transformed the reader into ciphertext upstream — spec §9 is explicit that
// the server core performs no cryptographic operations; index_blocks only
// ever hashes the bytes it is given.
func (m *Manager) IndexBlocks(ctx context.Context, storeID, path string, blocks *blockmgr.Manager, opts IndexOptions) (fileID string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, syncwerkerr.IOErr("fsmgr.IndexBlocks", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", 0, syncwerkerr.IOErr("fsmgr.IndexBlocks", err)
	}
	if st.Size() == 0 {
		return EmptyID, 0, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", 0, syncwerkerr.IOErr("fsmgr.IndexBlocks", err)
	}

	var chunks []chunker.Block
	if opts.UseCDC {
		min, avg, max := int64(cdcMin), int64(cdcAvg), int64(cdcMax)
		if opts.Adaptive != nil {
			min, avg, max = opts.Adaptive.GetChunkSizes()
		}
		c := chunker.NewFastCDC(min, avg, max).WithHashAlgorithm("sha1")
		chunks = c.ChunkAll(data)
	} else {
		blockSize := opts.FixedBlockSize
		if blockSize <= 0 {
			blockSize = 8 << 20
		}
		chunks = fixedSizeChunks(data, blockSize, opts.MaxIndexingThreads)
	}

	blockIDs := make([]string, len(chunks))
	for i, c := range chunks {
		blockIDs[i] = c.Hash
	}

	writeStart := time.Now()
	if err := writeBlocks(ctx, storeID, blocks, chunks); err != nil {
		return "", 0, err
	}
	if opts.Adaptive != nil {
		if elapsed := time.Since(writeStart); elapsed > 0 {
			opts.Adaptive.SetSpeed(float64(st.Size()) / elapsed.Seconds())
		}
	}

	id, err := m.PutSyncwerk(ctx, storeID, &Syncwerk{
		Version:  m.writeVersion,
		FileSize: uint64(st.Size()),
		BlockIDs: blockIDs,
	})
	if err != nil {
		return "", 0, err
	}
	return id, st.Size(), nil
}

// fixedSizeChunks splits data into fixed-size blocks, hashed in parallel by
// a bounded worker pool (spec §4.3: "this path is parallelizable and uses a
// worker pool").
func fixedSizeChunks(data []byte, blockSize int64, workers int) []chunker.Block {
	if workers <= 0 {
		workers = 3
	}
	n := (int64(len(data)) + blockSize - 1) / blockSize
	chunks := make([]chunker.Block, n)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := int64(0); i < n; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx, start, end int64) {
			defer wg.Done()
			defer func() { <-sem }()
			segment := data[start:end]
			chunks[idx] = chunker.Block{
				Hash:   blockmgr.Sum(segment),
				Data:   segment,
				Size:   end - start,
				Offset: start,
			}
		}(i, start, end)
	}
	wg.Wait()
	return chunks
}

func writeBlocks(ctx context.Context, storeID string, blocks *blockmgr.Manager, chunks []chunker.Block) error {
	for _, c := range chunks {
		w, err := blocks.OpenWrite(storeID, c.Hash)
		if err != nil {
			return err
		}
		if _, err := w.Write(c.Data); err != nil {
			w.Discard()
			return syncwerkerr.IOErr("fsmgr.writeBlocks", err)
		}
		if err := w.CommitBlock(ctx); err != nil {
			return err
		}
	}
	return nil
}
