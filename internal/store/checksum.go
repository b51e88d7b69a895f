package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ChecksumSuffix is appended to the store path to name its sidecar.
const ChecksumSuffix = ".sha256"

var (
	// ErrChecksumMismatch indicates the store file changed since its
	// checksum was written.
	ErrChecksumMismatch = errors.New("store: checksum mismatch")

	// ErrMissingChecksum indicates verification was requested but no
	// sidecar exists.
	ErrMissingChecksum = errors.New("store: checksum file missing")
)

// ChecksumPath returns the sidecar path for a store file.
func ChecksumPath(path string) string {
	return path + ChecksumSuffix
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open for checksum")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "hash store")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksum hashes the closed store at path and writes the sidecar.
// It returns the hex digest and the sidecar path.
func WriteChecksum(path string) (sum, sidecar string, err error) {
	sum, err = Checksum(path)
	if err != nil {
		return "", "", err
	}
	sidecar = ChecksumPath(path)
	if err := os.WriteFile(sidecar, []byte(sum), 0o644); err != nil {
		return "", "", errors.Wrap(err, "write checksum file")
	}
	return sum, sidecar, nil
}

// VerifyChecksum compares the store at path with its sidecar.
func VerifyChecksum(path string) error {
	want, err := os.ReadFile(ChecksumPath(path))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrMissingChecksum, path)
	}
	if err != nil {
		return errors.Wrap(err, "read checksum file")
	}
	got, err := Checksum(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(want)) != got {
		return errors.Wrapf(ErrChecksumMismatch, "%s: want %s, got %s", path, strings.TrimSpace(string(want)), got)
	}
	return nil
}
