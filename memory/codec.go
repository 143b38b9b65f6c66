package memory

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/copp1723/team-crm-sub000/types"
)

// DefaultCompressThreshold 内容超过该字节数时启用压缩
const DefaultCompressThreshold = 1000

// storedRecord 记录的持久化形态。
// Content 未压缩时为原始 JSON,压缩后为 gzip+base64 字符串。
type storedRecord struct {
	ID           string               `json:"id"`
	Type         types.MemoryType     `json:"type"`
	Content      json.RawMessage      `json:"content"`
	Metadata     types.RecordMetadata `json:"metadata"`
	Compressed   bool                 `json:"compressed,omitempty"`
	AccessCount  int                  `json:"access_count,omitempty"`
	LastAccessed int64                `json:"last_accessed,omitempty"` // unix 毫秒
}

// encodeRecord 将记录序列化为存储字节,返回内容是否被压缩。
// threshold <= 0 时禁用压缩。
func encodeRecord(rec *types.MemoryRecord, threshold int) ([]byte, bool, error) {
	content, err := types.EncodeContent(rec.Content)
	if err != nil {
		return nil, false, err
	}

	sr := storedRecord{
		ID:          rec.ID,
		Type:        rec.Type,
		Content:     content,
		Metadata:    rec.Metadata,
		AccessCount: rec.AccessCount,
	}
	if !rec.LastAccessed.IsZero() {
		sr.LastAccessed = rec.LastAccessed.UnixMilli()
	}

	if threshold > 0 && len(content) > threshold {
		packed, err := compressContent(content)
		if err != nil {
			return nil, false, types.NewError(types.ErrCompression, "compress record content").WithCause(err)
		}
		quoted, err := json.Marshal(packed)
		if err != nil {
			return nil, false, fmt.Errorf("quote compressed content: %w", err)
		}
		sr.Content = quoted
		sr.Compressed = true
	}

	data, err := json.Marshal(sr)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	return data, sr.Compressed, nil
}

// decodeRecord 从存储字节还原记录
func decodeRecord(data []byte) (*types.MemoryRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, types.NewError(types.ErrRecordCorrupt, "unmarshal stored record").WithCause(err)
	}

	content := []byte(sr.Content)
	if sr.Compressed {
		var packed string
		if err := json.Unmarshal(sr.Content, &packed); err != nil {
			return nil, types.NewError(types.ErrRecordCorrupt, "unquote compressed content").WithCause(err)
		}
		raw, err := decompressContent(packed)
		if err != nil {
			return nil, types.NewError(types.ErrCompression, "decompress record content").WithCause(err)
		}
		content = raw
	}

	payload, err := types.DecodeContent(sr.Type, content)
	if err != nil {
		return nil, types.NewError(types.ErrRecordCorrupt, "decode record content").WithCause(err)
	}

	rec := &types.MemoryRecord{
		ID:          sr.ID,
		Type:        sr.Type,
		Content:     payload,
		Metadata:    sr.Metadata,
		Compressed:  sr.Compressed,
		AccessCount: sr.AccessCount,
	}
	if sr.LastAccessed > 0 {
		rec.LastAccessed = time.UnixMilli(sr.LastAccessed)
	}
	return rec, nil
}

// compressContent gzip 压缩后 base64 编码
func compressContent(data []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decompressContent 还原压缩内容
func decompressContent(packed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
