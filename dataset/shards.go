package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultMaxShardBytes caps a single .bin shard.
const DefaultMaxShardBytes = int64(2 * 1024 * 1024 * 1024)

func shardPath(prefix string, shard int, ext string) string {
	return fmt.Sprintf("%s-%03d.%s", prefix, shard, ext)
}

// WriteShards writes token id rows to a binary data file plus an index:
//
//   - .bin = concatenated little-endian int32 token ids
//   - .idx = little-endian int64 (byte offset, length) per row
//
// It rolls over to a new shard once a .bin reaches maxShardBytes. Empty rows
// are kept so row indices stay aligned with the paired split.
func WriteShards(outPrefix string, rows [][]int, maxShardBytes int64) error {
	if maxShardBytes <= 0 {
		maxShardBytes = DefaultMaxShardBytes
	}
	shard := 0
	var (
		dataF, idxF *os.File
		wData, wIdx *bufio.Writer
		cur         int64
	)

	closeShard := func() error {
		if dataF == nil {
			return nil
		}
		if err := wData.Flush(); err != nil {
			return err
		}
		if err := wIdx.Flush(); err != nil {
			return err
		}
		if err := dataF.Close(); err != nil {
			return err
		}
		return idxF.Close()
	}

	openShard := func() error {
		if err := closeShard(); err != nil {
			return err
		}
		var err error
		dataF, err = os.Create(shardPath(outPrefix, shard, "bin"))
		if err != nil {
			return err
		}
		idxF, err = os.Create(shardPath(outPrefix, shard, "idx"))
		if err != nil {
			dataF.Close()
			return err
		}
		wData = bufio.NewWriter(dataF)
		wIdx = bufio.NewWriter(idxF)
		cur = 0
		return nil
	}

	if err := openShard(); err != nil {
		return err
	}

	buf4 := make([]byte, 4)
	buf8 := make([]byte, 8)
	for _, ids := range rows {
		binary.LittleEndian.PutUint64(buf8, uint64(cur))
		if _, err := wIdx.Write(buf8); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf8, uint64(len(ids)))
		if _, err := wIdx.Write(buf8); err != nil {
			return err
		}
		for _, id := range ids {
			binary.LittleEndian.PutUint32(buf4, uint32(int32(id)))
			if _, err := wData.Write(buf4); err != nil {
				return err
			}
		}
		cur += int64(4 * len(ids))

		if cur >= maxShardBytes {
			shard++
			if err := openShard(); err != nil {
				return err
			}
		}
	}
	return closeShard()
}

// ErrNoShards is returned (wrapped with ErrData) when a prefix has no shards.
var ErrNoShards = errors.New("no shards found")

// ReadShards reads every <prefix>-NNN shard written by WriteShards, in order.
func ReadShards(prefix string) ([][]int, error) {
	var rows [][]int
	for shard := 0; ; shard++ {
		idx, err := os.ReadFile(shardPath(prefix, shard, "idx"))
		if errors.Is(err, fs.ErrNotExist) {
			if shard == 0 {
				return nil, fmt.Errorf("%w: %w for %v", ErrData, ErrNoShards, prefix)
			}
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(idx)%16 != 0 {
			return nil, fmt.Errorf("%w: corrupt index %v", ErrData, shardPath(prefix, shard, "idx"))
		}
		data, err := os.ReadFile(shardPath(prefix, shard, "bin"))
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(idx); off += 16 {
			start := int64(binary.LittleEndian.Uint64(idx[off:]))
			n := int64(binary.LittleEndian.Uint64(idx[off+8:]))
			if start < 0 || start > int64(len(data)) || n < 0 || n > (int64(len(data))-start)/4 {
				return nil, fmt.Errorf("%w: row %d of %v out of range: %v", ErrData, len(rows), prefix, io.ErrUnexpectedEOF)
			}
			ids := make([]int, n)
			for i := range ids {
				ids[i] = int(int32(binary.LittleEndian.Uint32(data[start+4*int64(i):])))
			}
			rows = append(rows, ids)
		}
	}
}
