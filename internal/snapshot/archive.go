package snapshot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/docker/docker/pkg/archive"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const compressionZstd = "zstd"

// writeDataArchive tars dir, compresses it with zstd and, when recipients
// are set, encrypts it with age. It returns the stored size and checksum.
func writeDataArchive(dir, dst string, recipients []age.Recipient) (int64, string, error) {
	tarStream, err := archive.TarWithOptions(dir, &archive.TarOptions{Compression: archive.Uncompressed})
	if err != nil {
		return 0, "", fmt.Errorf("tar data dir: %w", err)
	}
	defer tarStream.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, "", fmt.Errorf("create data archive: %w", err)
	}
	defer out.Close()

	hasher := blake3.New()
	counter := &countingWriter{w: io.MultiWriter(out, hasher)}

	var sink io.Writer = counter
	var encrypted io.WriteCloser
	if len(recipients) > 0 {
		encrypted, err = age.Encrypt(counter, recipients...)
		if err != nil {
			return 0, "", fmt.Errorf("create age encryptor: %w", err)
		}
		sink = encrypted
	}

	enc, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, "", fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, tarStream); err != nil {
		_ = enc.Close()
		return 0, "", fmt.Errorf("write data archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, "", fmt.Errorf("finalize zstd stream: %w", err)
	}
	if encrypted != nil {
		if err := encrypted.Close(); err != nil {
			return 0, "", fmt.Errorf("finalize age encryption: %w", err)
		}
	}
	if err := out.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync data archive: %w", err)
	}
	return counter.n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// extractDataArchive reverses writeDataArchive into dest, which must exist
// and be empty.
func extractDataArchive(src, dest string, encrypted bool, identities []age.Identity) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open data archive: %w", err)
	}
	defer in.Close()

	var r io.Reader = in
	if encrypted {
		if len(identities) == 0 {
			return ErrNoIdentity
		}
		r, err = age.Decrypt(in, identities...)
		if err != nil {
			return fmt.Errorf("decrypt data archive: %w", err)
		}
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	opts := &archive.TarOptions{NoLchown: os.Geteuid() != 0}
	if err := archive.Untar(dec, dest, opts); err != nil {
		return fmt.Errorf("extract data archive: %w", err)
	}
	return nil
}

func parseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

func loadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return identities, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
