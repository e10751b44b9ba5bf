// Package zipx reads the store/deflate subset of the ZIP format from an
// in-memory buffer. Zip64, multi-disk and encrypted archives are rejected.
package zipx

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	coreerrors "github.com/davidahmann/chainverify/core/errors"
)

const (
	sigEndOfCentralDir = 0x06054b50
	sigCentralDir      = 0x02014b50
	sigLocalHeader     = 0x04034b50

	endOfCentralDirLen = 22
	centralDirLen      = 46
	localHeaderLen     = 30
	maxCommentLen      = 0xffff

	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8

	flagEncrypted      uint16 = 0x1
	flagDataDescriptor uint16 = 0x8
)

const (
	CodeOpen              = "zip_open"
	CodeCorrupt           = "zip_corrupt"
	CodeEncrypted         = "zip_encrypted"
	CodeUnsupportedMethod = "zip_unsupported_method"
	CodeEntryTooLarge     = "zip_entry_too_large"
	CodeSizeMismatch      = "zip_size_mismatch"
	CodeChecksumMismatch  = "zip_checksum_mismatch"
)

type Entry struct {
	Name              string
	CompressedSize    uint64
	UncompressedSize  uint64
	Method            uint16
	Flags             uint16
	CRC32             uint32
	LocalHeaderOffset uint64
}

func (entry Entry) IsDir() bool {
	return strings.HasSuffix(entry.Name, "/") || strings.HasSuffix(entry.Name, "\\")
}

func (entry Entry) Encrypted() bool {
	return entry.Flags&flagEncrypted != 0
}

// Ratio is uncompressed over compressed size. Empty payloads report 0 and a
// non-empty payload stored in zero bytes reports the uncompressed size.
func (entry Entry) Ratio() float64 {
	if entry.CompressedSize == 0 {
		return float64(entry.UncompressedSize)
	}
	return float64(entry.UncompressedSize) / float64(entry.CompressedSize)
}

type Archive struct {
	data         []byte
	entryCount   int
	centralStart uint64
	centralSize  uint64
}

func Open(path string) (*Archive, error) {
	// #nosec G304 -- caller-selected pack path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(
			fmt.Errorf("read zip: %w", err),
			coreerrors.CategoryIOFailure,
			CodeOpen,
			"check the pack path and permissions",
		)
	}
	return FromBytes(data)
}

// FromBytes locates the end-of-central-directory record. data must not be
// modified while the archive is in use.
func FromBytes(data []byte) (*Archive, error) {
	end, err := findEndOfCentralDir(data)
	if err != nil {
		return nil, err
	}
	record := data[end:]
	diskNumber := binary.LittleEndian.Uint16(record[4:6])
	centralDisk := binary.LittleEndian.Uint16(record[6:8])
	entriesOnDisk := binary.LittleEndian.Uint16(record[8:10])
	totalEntries := binary.LittleEndian.Uint16(record[10:12])
	centralSize := uint64(binary.LittleEndian.Uint32(record[12:16]))
	centralStart := uint64(binary.LittleEndian.Uint32(record[16:20]))

	if diskNumber != 0 || centralDisk != 0 || entriesOnDisk != totalEntries {
		return nil, corrupt("multi-disk archives are not supported")
	}
	if totalEntries == 0xffff || centralSize == 0xffffffff || centralStart == 0xffffffff {
		return nil, corrupt("zip64 archives are not supported")
	}
	if centralStart+centralSize > uint64(end) {
		return nil, corrupt("central directory [%d,+%d) overlaps end record at %d", centralStart, centralSize, end)
	}
	return &Archive{
		data:         data,
		entryCount:   int(totalEntries),
		centralStart: centralStart,
		centralSize:  centralSize,
	}, nil
}

func (archive *Archive) Size() int {
	return len(archive.data)
}

// List parses every central directory header. A single bad header rejects
// the whole directory.
func (archive *Archive) List() ([]Entry, error) {
	entries := make([]Entry, 0, archive.entryCount)
	offset := archive.centralStart
	limit := archive.centralStart + archive.centralSize
	for index := 0; index < archive.entryCount; index++ {
		if offset+centralDirLen > limit {
			return nil, corrupt("central directory entry %d exceeds directory bounds", index)
		}
		header := archive.data[offset : offset+centralDirLen]
		if binary.LittleEndian.Uint32(header[0:4]) != sigCentralDir {
			return nil, corrupt("bad central directory signature at offset %d", offset)
		}
		nameLen := uint64(binary.LittleEndian.Uint16(header[28:30]))
		extraLen := uint64(binary.LittleEndian.Uint16(header[30:32]))
		commentLen := uint64(binary.LittleEndian.Uint16(header[32:34]))
		next := offset + centralDirLen + nameLen + extraLen + commentLen
		if next > limit {
			return nil, corrupt("central directory entry %d exceeds directory bounds", index)
		}
		entry := Entry{
			Flags:             binary.LittleEndian.Uint16(header[8:10]),
			Method:            binary.LittleEndian.Uint16(header[10:12]),
			CRC32:             binary.LittleEndian.Uint32(header[16:20]),
			CompressedSize:    uint64(binary.LittleEndian.Uint32(header[20:24])),
			UncompressedSize:  uint64(binary.LittleEndian.Uint32(header[24:28])),
			Name:              string(archive.data[offset+centralDirLen : offset+centralDirLen+nameLen]),
			LocalHeaderOffset: uint64(binary.LittleEndian.Uint32(header[42:46])),
		}
		if entry.CompressedSize == 0xffffffff || entry.UncompressedSize == 0xffffffff || entry.LocalHeaderOffset == 0xffffffff {
			return nil, corrupt("zip64 entry %q is not supported", entry.Name)
		}
		entries = append(entries, entry)
		offset = next
	}
	return entries, nil
}

// Extract returns a copy of the entry's uncompressed bytes. maxBytes <= 0
// disables the size cap.
func (archive *Archive) Extract(entry Entry, maxBytes int64) ([]byte, error) {
	if entry.Encrypted() {
		return nil, coreerrors.Wrap(
			fmt.Errorf("entry %q is encrypted", entry.Name),
			coreerrors.CategoryInvalidInput,
			CodeEncrypted,
			"encrypted entries cannot be verified",
		)
	}
	if maxBytes > 0 && entry.UncompressedSize > uint64(maxBytes) {
		return nil, coreerrors.Wrap(
			fmt.Errorf("entry %q declares %d bytes, limit is %d", entry.Name, entry.UncompressedSize, maxBytes),
			coreerrors.CategoryVerification,
			CodeEntryTooLarge,
			"raise the entry size limit if the pack is trusted",
		)
	}
	if entry.Method != MethodStore && entry.Method != MethodDeflate {
		return nil, coreerrors.Wrap(
			fmt.Errorf("entry %q uses compression method %d", entry.Name, entry.Method),
			coreerrors.CategoryInvalidInput,
			CodeUnsupportedMethod,
			"only store and deflate entries are supported",
		)
	}

	payload, err := archive.payload(entry)
	if err != nil {
		return nil, err
	}
	var content []byte
	switch entry.Method {
	case MethodStore:
		content = bytes.Clone(payload)
	case MethodDeflate:
		inflater := flate.NewReader(bytes.NewReader(payload))
		content, err = io.ReadAll(io.LimitReader(inflater, int64(entry.UncompressedSize)+1))
		_ = inflater.Close()
		if err != nil {
			return nil, corrupt("inflate %q: %v", entry.Name, err)
		}
	}
	if uint64(len(content)) != entry.UncompressedSize {
		return nil, coreerrors.Wrap(
			fmt.Errorf("entry %q extracted %d bytes, header declares %d", entry.Name, len(content), entry.UncompressedSize),
			coreerrors.CategoryVerification,
			CodeSizeMismatch,
			"the archive is corrupt or was modified",
		)
	}
	if sum := crc32.ChecksumIEEE(content); sum != entry.CRC32 {
		return nil, coreerrors.Wrap(
			fmt.Errorf("entry %q checksum %08x, header declares %08x", entry.Name, sum, entry.CRC32),
			coreerrors.CategoryVerification,
			CodeChecksumMismatch,
			"the archive is corrupt or was modified",
		)
	}
	return content, nil
}

func (archive *Archive) payload(entry Entry) ([]byte, error) {
	start := entry.LocalHeaderOffset
	if start+localHeaderLen > uint64(len(archive.data)) {
		return nil, corrupt("local header for %q is out of range", entry.Name)
	}
	header := archive.data[start : start+localHeaderLen]
	if binary.LittleEndian.Uint32(header[0:4]) != sigLocalHeader {
		return nil, corrupt("bad local header signature for %q", entry.Name)
	}
	nameLen := uint64(binary.LittleEndian.Uint16(header[26:28]))
	extraLen := uint64(binary.LittleEndian.Uint16(header[28:30]))
	if start+localHeaderLen+nameLen > uint64(len(archive.data)) {
		return nil, corrupt("local header name for %q is out of range", entry.Name)
	}
	if err := matchLocalHeader(entry, header, archive.data[start+localHeaderLen:start+localHeaderLen+nameLen]); err != nil {
		return nil, err
	}
	dataStart := start + localHeaderLen + nameLen + extraLen
	dataEnd := dataStart + entry.CompressedSize
	if dataEnd > uint64(len(archive.data)) {
		return nil, corrupt("data for %q is out of range", entry.Name)
	}
	return archive.data[dataStart:dataEnd], nil
}

// matchLocalHeader rejects a local header that disagrees with the central
// record. Sizes and checksum are only compared when the entry carries them in
// the local header rather than in a trailing data descriptor.
func matchLocalHeader(entry Entry, header []byte, name []byte) error {
	flags := binary.LittleEndian.Uint16(header[6:8])
	method := binary.LittleEndian.Uint16(header[8:10])
	if flags != entry.Flags || method != entry.Method {
		return corrupt("local header for %q disagrees with central directory (flags %#x/%#x, method %d/%d)", entry.Name, flags, entry.Flags, method, entry.Method)
	}
	if string(name) != entry.Name {
		return corrupt("local header name %q disagrees with central directory name %q", name, entry.Name)
	}
	if flags&flagDataDescriptor != 0 {
		return nil
	}
	crc := binary.LittleEndian.Uint32(header[14:18])
	compressed := uint64(binary.LittleEndian.Uint32(header[18:22]))
	uncompressed := uint64(binary.LittleEndian.Uint32(header[22:26]))
	if crc != entry.CRC32 || compressed != entry.CompressedSize || uncompressed != entry.UncompressedSize {
		return corrupt("local header sizes or checksum for %q disagree with central directory", entry.Name)
	}
	return nil
}

func findEndOfCentralDir(data []byte) (int, error) {
	if len(data) >= endOfCentralDirLen {
		floor := len(data) - (maxCommentLen + endOfCentralDirLen)
		if floor < 0 {
			floor = 0
		}
		for offset := len(data) - endOfCentralDirLen; offset >= floor; offset-- {
			if binary.LittleEndian.Uint32(data[offset:offset+4]) == sigEndOfCentralDir {
				return offset, nil
			}
		}
	}
	return 0, coreerrors.Wrap(
		fmt.Errorf("end of central directory not found in %d bytes", len(data)),
		coreerrors.CategoryInvalidInput,
		CodeOpen,
		"input is not a zip archive",
	)
}

func corrupt(format string, args ...any) error {
	return coreerrors.Wrap(
		fmt.Errorf(format, args...),
		coreerrors.CategoryInvalidInput,
		CodeCorrupt,
		"the archive is corrupt or was modified",
	)
}
