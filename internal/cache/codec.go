package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// FormatVersion 是当前写出的缓存文件版本，解码时只接受该版本。
	FormatVersion = 1

	// MaxKeyLength 限制单个 key 的字节长度。
	MaxKeyLength = 64 * 1024

	fileMagic = "XK6CACHE"
)

// ValidateKey 校验 key 是否可以被编码：非空、合法 UTF-8、不含 NUL、长度受限。
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidKey, MaxKeyLength)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidKey)
	case strings.IndexByte(key, 0) >= 0:
		return fmt.Errorf("%w: key contains NUL byte", ErrInvalidKey)
	}
	return nil
}

// Encode 将条目集合编码为 v1 文件格式。
//
//	"XK6CACHE" | uvarint(version) | uvarint(count) | { uvarint(len) key uvarint(len) body }*
//
// 记录按 key 字节序升序输出，因此相同条目集合总是得到相同字节。
func Encode(entries map[string][]byte) ([]byte, error) {
	keys := make([]string, 0, len(entries))
	size := len(fileMagic) + 2*binary.MaxVarintLen64
	for key, body := range entries {
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
		size += len(key) + len(body) + 2*binary.MaxVarintLen64
	}
	sort.Strings(keys)

	buf := make([]byte, 0, size)
	buf = append(buf, fileMagic...)
	buf = binary.AppendUvarint(buf, FormatVersion)
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, key := range keys {
		body := entries[key]
		buf = binary.AppendUvarint(buf, uint64(len(key)))
		buf = append(buf, key...)
		buf = binary.AppendUvarint(buf, uint64(len(body)))
		buf = append(buf, body...)
	}
	return buf, nil
}

// Decode 解析 Encode 的输出。只接受规范形式（最短 varint、key 严格升序、无尾随字节），
// 因而 Encode(Decode(b)) 与 b 逐字节一致。任何结构问题都会立即返回 *DecodeError。
func Decode(data []byte) (map[string][]byte, error) {
	d := decoder{data: data}

	if len(data) < len(fileMagic) || !bytes.Equal(data[:len(fileMagic)], []byte(fileMagic)) {
		return nil, d.fail("missing %q header", fileMagic)
	}
	d.pos = len(fileMagic)

	version, err := d.uvarint("format version")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, d.fail("unsupported format version %d (want %d)", version, FormatVersion)
	}

	count, err := d.uvarint("record count")
	if err != nil {
		return nil, err
	}
	// 每条记录至少占 2 字节（两个长度前缀），提前拒绝伪造的超大 count。
	if count > uint64(d.remaining()/2) {
		return nil, d.fail("record count %d exceeds remaining %d bytes", count, d.remaining())
	}

	entries := make(map[string][]byte, int(count))
	prev := ""
	for i := uint64(0); i < count; i++ {
		keyStart := d.pos
		rawKey, err := d.chunk("key")
		if err != nil {
			return nil, err
		}
		key := string(rawKey)
		if err := ValidateKey(key); err != nil {
			return nil, &DecodeError{Offset: keyStart, Reason: err.Error()}
		}
		if i > 0 && key <= prev {
			return nil, &DecodeError{Offset: keyStart, Reason: fmt.Sprintf("key %q out of order", key)}
		}
		body, err := d.chunk("content")
		if err != nil {
			return nil, err
		}
		entries[key] = bytes.Clone(body)
		prev = key
	}

	if d.remaining() != 0 {
		return nil, d.fail("%d trailing bytes after last record", d.remaining())
	}
	return entries, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) fail(format string, args ...any) *DecodeError {
	return &DecodeError{Offset: d.pos, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) uvarint(what string) (uint64, error) {
	value, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, d.fail("malformed %s", what)
	}
	// 拒绝非最短编码，保证往返一致。
	if n != len(binary.AppendUvarint(nil, value)) {
		return 0, d.fail("non-canonical %s", what)
	}
	d.pos += n
	return value, nil
}

func (d *decoder) chunk(what string) ([]byte, error) {
	length, err := d.uvarint(what + " length")
	if err != nil {
		return nil, err
	}
	if length > uint64(d.remaining()) {
		return nil, d.fail("%s length %d exceeds remaining %d bytes", what, length, d.remaining())
	}
	start := d.pos
	d.pos += int(length)
	return d.data[start:d.pos], nil
}
