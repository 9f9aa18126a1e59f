package backend

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"testing/fstest"

	"github.com/keithlinneman/pkgres/internal/cryptoutil"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

const (
	// maxBundleSize is the maximum size of a compressed resource bundle
	maxBundleSize int64 = 50 * 1024 * 1024 // 50MB

	// maxSingleFile is the maximum size of a single file in the bundle
	maxSingleFile int64 = 10 * 1024 * 1024 // 10MB

	// maxTotalExtract is the maximum total size of extracted content
	maxTotalExtract int64 = 100 * 1024 * 1024 // 100MB
)

// Bundle serves resources out of a .tar.gz archive extracted into memory at
// construction time. Archives are fully validated up front so a bad bundle
// fails construction rather than the first read.
type Bundle struct {
	*FS
	hash string
}

// Hash returns the hex SHA-256 of the compressed archive bytes.
func (b *Bundle) Hash() string { return b.hash }

// NewBundle extracts a .tar.gz archive held in memory.
func NewBundle(data []byte) (*Bundle, error) {
	mfs, err := extractTarGz(data)
	if err != nil {
		return nil, err
	}
	return &Bundle{FS: NewFS(mfs), hash: cryptoutil.SHA256Hex(data)}, nil
}

// NewBundleFromFile reads a .tar.gz archive from disk, optionally verifying
// its SHA-256 against expectedHash before extraction.
func NewBundleFromFile(path, expectedHash string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open bundle %s", path)
	}
	defer f.Close()

	data, hash, err := cryptoutil.ReadWithHash(f, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read bundle %s", path)
	}
	if expectedHash != "" && !cryptoutil.HashEqual(hash, expectedHash) {
		return nil, xerrors.Newf("bundle checksum mismatch: expected %s, got %s", expectedHash, hash)
	}

	mfs, err := extractTarGz(data)
	if err != nil {
		return nil, err
	}
	return &Bundle{FS: NewFS(mfs), hash: hash}, nil
}

// extractTarGz extracts a .tar.gz archive to an in-memory filesystem
func extractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)

	var totalBytes int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		// clean and validate the path - same rules as disk extraction
		cleanName := path.Clean(hdr.Name)
		if cleanName == "." || cleanName == "" {
			continue
		}
		if path.IsAbs(cleanName) {
			return nil, xerrors.Newf("absolute path in archive: %s", hdr.Name)
		}
		if strings.Contains(cleanName, "..") {
			return nil, xerrors.Newf("path traversal in archive: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// directories are implicit in MapFS - skip
			continue

		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)",
					cleanName, hdr.Size, maxSingleFile)
			}

			lr := io.LimitReader(tr, maxSingleFile+1)
			content, err := io.ReadAll(lr)
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", cleanName)
			}
			if int64(len(content)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", cleanName)
			}

			totalBytes += int64(len(content))
			if totalBytes > maxTotalExtract {
				return nil, xerrors.Newf("total extracted size exceeds limit (%d bytes, max %d)",
					totalBytes, maxTotalExtract)
			}

			mfs[cleanName] = &fstest.MapFile{
				Data: content,
				Mode: hdr.FileInfo().Mode().Perm(),
			}

		default:
			return nil, xerrors.Newf("unsupported file type in archive: %s (type=%d)",
				cleanName, hdr.Typeflag)
		}
	}

	return mfs, nil
}
