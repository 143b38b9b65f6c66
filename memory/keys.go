package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/copp1723/team-crm-sub000/types"
)

// Redis 键前缀,所有键都挂在同一命名空间下便于运维清理
const (
	keyPrefix    = "teamcrm:mem:"
	recKeyPrefix = keyPrefix + "rec:"
	idxKeyPrefix = keyPrefix + "idx:"
	statsKey     = keyPrefix + "stats"
	historyKey   = keyPrefix + "summary:history"
	lastSweepKey = keyPrefix + "sweep:last"
)

// IndexKind 索引类别
type IndexKind string

const (
	IndexByType       IndexKind = "type"
	IndexByTag        IndexKind = "tag"
	IndexByImportance IndexKind = "imp"
)

// NewRecordID 生成记录 ID: <类型前缀>:<毫秒时间戳>:<随机后缀>。
// 前缀使 ID 可读,时间戳使同类 ID 近似有序,随机后缀保证唯一。
func NewRecordID(t types.MemoryType, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s:%d:%s", t.Prefix(), now.UnixMilli(), suffix)
}

// RecordKey 返回记录的存储键
func RecordKey(id string) string {
	return recKeyPrefix + id
}

// IndexKey 返回索引 ZSET 的键
func IndexKey(kind IndexKind, value string) string {
	return fmt.Sprintf("%s%s:%s", idxKeyPrefix, kind, normalizeIndexValue(value))
}

// StatsKey 返回引擎统计快照的键
func StatsKey() string { return statsKey }

// SummaryHistoryKey 返回摘要历史列表的键
func SummaryHistoryKey() string { return historyKey }

// normalizeIndexValue 索引值统一小写并压掉空白,避免同义键分裂
func normalizeIndexValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.ReplaceAll(v, " ", "-")
}

// indexKeysFor 返回一条记录应加入的全部索引键
func indexKeysFor(rec *types.MemoryRecord) []string {
	keys := []string{
		IndexKey(IndexByType, string(rec.Type)),
		IndexKey(IndexByImportance, string(rec.Metadata.Importance)),
	}
	for _, tag := range rec.Metadata.Tags {
		if tag == "" {
			continue
		}
		keys = append(keys, IndexKey(IndexByTag, tag))
	}
	return keys
}
