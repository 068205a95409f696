package checksum

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// DefaultChunkSize is the read size used while hashing
const DefaultChunkSize = 1 << 20

// Verifier hashes local files and compares them to expected digests.
// It only reads files and is safe for concurrent use.
type Verifier struct {
	chunkSize int
	logger    *zap.Logger
}

// NewVerifier creates a verifier. chunkSize <= 0 uses DefaultChunkSize.
func NewVerifier(chunkSize int, logger *zap.Logger) *Verifier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Verifier{chunkSize: chunkSize, logger: logger}
}

// Verify streams path through the expected digest's algorithm
func (v *Verifier) Verify(ctx context.Context, path string, expected domain.ExpectedDigest) domain.VerifyResult {
	h, err := expected.Algorithm.New()
	if err != nil {
		return domain.Unverified(err.Error())
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Missing(expected.Hex)
	}
	if err != nil {
		return domain.Unverified("open: " + err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.Unverified("stat: " + err.Error())
	}
	if info.IsDir() {
		return domain.Unverified("is a directory")
	}
	if info.Size() == 0 {
		return domain.Missing(expected.Hex)
	}

	buf := make([]byte, v.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return domain.Unverified("canceled: " + err.Error())
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Unverified("read: " + err.Error())
		}
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected.Hex {
		v.logger.Debug("Digest mismatch",
			zap.String("path", path),
			zap.String("expected", expected.Hex),
			zap.String("actual", actual))
		return domain.Mismatch(expected.Hex, actual)
	}
	return domain.Match(expected.Hex)
}
