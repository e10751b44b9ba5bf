package fixtures

import (
	"archive/zip"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
)

// ZipEntry describes one archive member. Raw entries are written with their
// header fields exactly as given so tests can declare misleading sizes,
// unsupported methods, or the encryption flag.
type ZipEntry struct {
	Name   string
	Data   []byte
	Method uint16
	Raw    bool
	Flags  uint16
	// DeclaredSize overrides the uncompressed size of a raw entry when set.
	DeclaredSize uint64
}

func Zip(entries ...ZipEntry) []byte {
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for _, entry := range entries {
		if err := writeEntry(writer, entry); err != nil {
			panic(fmt.Sprintf("fixtures: write zip entry %s: %v", entry.Name, err))
		}
	}
	if err := writer.Close(); err != nil {
		panic(fmt.Sprintf("fixtures: close zip: %v", err))
	}
	return buffer.Bytes()
}

func writeEntry(writer *zip.Writer, entry ZipEntry) error {
	if entry.Raw {
		size := entry.DeclaredSize
		if size == 0 {
			size = uint64(len(entry.Data))
		}
		header := &zip.FileHeader{
			Name:               entry.Name,
			Method:             entry.Method,
			Flags:              entry.Flags,
			CRC32:              crc32.ChecksumIEEE(entry.Data),
			CompressedSize64:   uint64(len(entry.Data)),
			UncompressedSize64: size,
		}
		destination, err := writer.CreateRaw(header)
		if err != nil {
			return err
		}
		_, err = destination.Write(entry.Data)
		return err
	}
	destination, err := writer.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: entry.Method})
	if err != nil {
		return err
	}
	_, err = io.Copy(destination, bytes.NewReader(entry.Data))
	return err
}

// Stored returns a store-method entry.
func Stored(name string, data []byte) ZipEntry {
	return ZipEntry{Name: name, Data: data, Method: zip.Store}
}

// Deflated returns a deflate-method entry.
func Deflated(name string, data []byte) ZipEntry {
	return ZipEntry{Name: name, Data: data, Method: zip.Deflate}
}
