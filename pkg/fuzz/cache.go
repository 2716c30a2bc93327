package fuzz

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/Mindburn-Labs/avs/pkg/canonicalize"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

const cacheExt = ".cbor.zst"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fuzz: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("fuzz: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("fuzz: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("fuzz: zstd decoder initialization failed: " + err.Error())
	}
}

// Variant is the generated part of a fuzzed scenario. Identity, token and
// delegation overrides always come from the original.
type Variant struct {
	Description string                    `json:"description,omitempty" cbor:"description,omitempty"`
	Inputs      map[string]any            `json:"inputs,omitempty" cbor:"inputs,omitempty"`
	NodeInputs  map[string]map[string]any `json:"node_inputs,omitempty" cbor:"node_inputs,omitempty"`
}

// Cache stores generated variants on disk, one zstd-compressed CBOR file
// per (scenario, count, model) key.
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("fuzz: cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fuzz: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Key is the hex BLAKE3 digest of the scenario's canonical JSON, the
// variant count and the model name.
func Key(s runner.Scenario, n int, model string) (string, error) {
	canon, err := canonicalize.JCS(s)
	if err != nil {
		return "", fmt.Errorf("fuzz: canonicalize scenario: %w", err)
	}
	h := blake3.New()
	_, _ = h.Write(canon)
	_, _ = fmt.Fprintf(h, "|%d|%s", n, model)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+cacheExt)
}

// Get returns the cached variants for key. A missing entry is not an error.
func (c *Cache) Get(key string) ([]Variant, bool, error) {
	compressed, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("zstd decompress: %w", err)
	}
	var out []Variant
	if err := decMode.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("cbor decode: %w", err)
	}
	return out, true, nil
}

// Put writes variants under key, replacing any previous entry atomically.
func (c *Cache) Put(key string, variants []Variant) error {
	raw, err := encMode.Marshal(variants)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(raw, nil)

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}
