// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package simulated

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/logger"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const memoryChunkSize = 64 * 1024

// BackingStore holds the logical blocks of one simulated namespace.
type BackingStore interface {
	Close() error
	Size() uint64
	Read(offset, length uint64) ([]byte, error)
	Write(buffer []byte, offset uint64) error
	DataSync() error
	// Unmap makes the range read back as zeros.
	Unmap(offset, length uint64) error
	GetPath() string
}

func checkRange(store BackingStore, offset, length uint64) error {
	if offset+length < offset || offset+length > store.Size() {
		return errors.Wrapf(
			common.ErrBadParams,
			"range %d+%d outside backing store of %d bytes",
			offset,
			length,
			store.Size(),
		)
	}
	return nil
}

// MemoryBackingStore keeps written data in sparse chunks; unwritten
// ranges read as zeros.
type MemoryBackingStore struct {
	DataSize uint64
	chunks   map[uint64][]byte
}

func NewMemoryBackingStore(size uint64) *MemoryBackingStore {
	log := logger.GetLogger()
	log.Debugf("created memory backing store of %s", humanize.IBytes(size))
	return &MemoryBackingStore{
		DataSize: size,
		chunks:   map[uint64][]byte{},
	}
}

func (backingStore *MemoryBackingStore) Close() error {
	backingStore.chunks = map[uint64][]byte{}
	return nil
}

func (backingStore *MemoryBackingStore) Size() uint64 {
	return backingStore.DataSize
}

func (backingStore *MemoryBackingStore) Read(offset, length uint64) ([]byte, error) {
	if err := checkRange(backingStore, offset, length); err != nil {
		return nil, err
	}
	buffer := make([]byte, length)
	for done := uint64(0); done < length; {
		position := offset + done
		index, within := position/memoryChunkSize, position%memoryChunkSize
		count := min(memoryChunkSize-within, length-done)
		if chunk, ok := backingStore.chunks[index]; ok {
			copy(buffer[done:done+count], chunk[within:within+count])
		}
		done += count
	}
	return buffer, nil
}

func (backingStore *MemoryBackingStore) Write(buffer []byte, offset uint64) error {
	length := uint64(len(buffer))
	if err := checkRange(backingStore, offset, length); err != nil {
		return err
	}
	for done := uint64(0); done < length; {
		position := offset + done
		index, within := position/memoryChunkSize, position%memoryChunkSize
		count := min(memoryChunkSize-within, length-done)
		chunk, ok := backingStore.chunks[index]
		if !ok {
			chunk = make([]byte, memoryChunkSize)
			backingStore.chunks[index] = chunk
		}
		copy(chunk[within:within+count], buffer[done:done+count])
		done += count
	}
	return nil
}

func (backingStore *MemoryBackingStore) DataSync() error {
	return nil
}

func (backingStore *MemoryBackingStore) Unmap(offset, length uint64) error {
	if err := checkRange(backingStore, offset, length); err != nil {
		return err
	}
	for done := uint64(0); done < length; {
		position := offset + done
		index, within := position/memoryChunkSize, position%memoryChunkSize
		count := min(memoryChunkSize-within, length-done)
		if chunk, ok := backingStore.chunks[index]; ok {
			if count == memoryChunkSize {
				delete(backingStore.chunks, index)
			} else {
				clear(chunk[within : within+count])
			}
		}
		done += count
	}
	return nil
}

func (backingStore *MemoryBackingStore) GetPath() string {
	return ""
}

// FileBackingStore keeps the blocks in a regular file, grown to the
// namespace size on open.
type FileBackingStore struct {
	Path     string
	DataSize uint64
	file     *os.File
}

func NewFileBackingStore(path string, size uint64) (*FileBackingStore, error) {
	log := logger.GetLogger()
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open backing file %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "stat backing file %s", path)
	}
	if uint64(info.Size()) < size {
		if err := file.Truncate(int64(size)); err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "grow backing file %s to %d bytes", path, size)
		}
	}
	log.Debugf(
		"opened file backing store %s of %s",
		path,
		humanize.IBytes(size),
	)
	return &FileBackingStore{Path: path, DataSize: size, file: file}, nil
}

func (backingStore *FileBackingStore) Close() error {
	if backingStore.file == nil {
		return nil
	}
	err := backingStore.file.Close()
	backingStore.file = nil
	return err
}

func (backingStore *FileBackingStore) Size() uint64 {
	return backingStore.DataSize
}

func (backingStore *FileBackingStore) Read(offset, length uint64) ([]byte, error) {
	if err := checkRange(backingStore, offset, length); err != nil {
		return nil, err
	}
	buffer := make([]byte, length)
	if _, err := backingStore.file.ReadAt(buffer, int64(offset)); err != nil {
		return nil, errors.Wrapf(err, "read %d bytes at %d from %s", length, offset, backingStore.Path)
	}
	return buffer, nil
}

func (backingStore *FileBackingStore) Write(buffer []byte, offset uint64) error {
	if err := checkRange(backingStore, offset, uint64(len(buffer))); err != nil {
		return err
	}
	if _, err := backingStore.file.WriteAt(buffer, int64(offset)); err != nil {
		return errors.Wrapf(err, "write %d bytes at %d to %s", len(buffer), offset, backingStore.Path)
	}
	return nil
}

func (backingStore *FileBackingStore) DataSync() error {
	return errors.Wrapf(backingStore.file.Sync(), "sync %s", backingStore.Path)
}

func (backingStore *FileBackingStore) Unmap(offset, length uint64) error {
	if err := checkRange(backingStore, offset, length); err != nil {
		return err
	}
	zeros := make([]byte, min(length, memoryChunkSize))
	for done := uint64(0); done < length; {
		count := min(uint64(len(zeros)), length-done)
		if err := backingStore.Write(zeros[:count], offset+done); err != nil {
			return err
		}
		done += count
	}
	return nil
}

func (backingStore *FileBackingStore) GetPath() string {
	return backingStore.Path
}
