package sink

import (
	"strings"

	"fetch-process/internal/model"
)

// 逻辑字段名。
const (
	FieldNoteID      = "note_id"
	FieldContent     = "content"
	FieldImages      = "images"
	FieldPostTime    = "post_time"
	FieldPostURL     = "post_url"
	FieldTitle       = "title"
	FieldAuthor      = "author_name"
	FieldTags        = "tags"
	FieldLikes       = "likes_count"
	FieldCollections = "collections_count"
	FieldComments    = "comments_count"
	FieldShares      = "shares_count"
	FieldPlatform    = "platform"
	FieldIsVideo     = "is_video"
	FieldIsRetweet   = "is_retweet"
)

// Fields 为全部逻辑字段，顺序即默认列顺序。
var Fields = []string{
	FieldNoteID, FieldContent, FieldImages, FieldPostTime, FieldPostURL, FieldTitle,
	FieldAuthor, FieldTags, FieldLikes, FieldCollections, FieldComments, FieldShares,
	FieldPlatform, FieldIsVideo, FieldIsRetweet,
}

// Mapping 为 逻辑字段 → 存储列名。未出现在映射中的逻辑字段不写入。
type Mapping map[string]string

// DefaultMapping 返回列名与逻辑字段同名的映射。
func DefaultMapping() Mapping {
	m := make(Mapping, len(Fields))
	for _, f := range Fields {
		m[f] = f
	}
	return m
}

// KeyColumn 返回主键列名；未配置 note_id 时使用 "note_id"。
func (m Mapping) KeyColumn() string {
	if c := strings.TrimSpace(m[FieldNoteID]); c != "" {
		return c
	}
	return FieldNoteID
}

// LogicalOf 由列名反查逻辑字段。
func (m Mapping) LogicalOf(column string) (string, bool) {
	for k, v := range m {
		if v == column {
			return k, true
		}
	}
	return "", false
}

// Record 按映射把详情展开为记录。图片以 ", " 拼接；post_url 以 Link 对象写入。
func (m Mapping) Record(d model.ItemDetail) Record {
	if len(m) == 0 {
		m = DefaultMapping()
	}
	values := map[string]any{
		FieldNoteID:      d.ItemID,
		FieldContent:     d.Body,
		FieldImages:      strings.Join(d.Media, ", "),
		FieldPostTime:    d.Timestamp,
		FieldPostURL:     Link{Link: d.URL, Text: firstNonEmpty(d.Title, d.URL)},
		FieldTitle:       d.Title,
		FieldAuthor:      d.Author,
		FieldTags:        d.Tags,
		FieldLikes:       d.Stats.Likes,
		FieldCollections: d.Stats.Collections,
		FieldComments:    d.Stats.Comments,
		FieldShares:      d.Stats.Shares,
		FieldPlatform:    d.Platform,
		FieldIsVideo:     d.IsVideo,
		FieldIsRetweet:   d.IsRetweet,
	}
	rec := make(Record, len(m))
	for key, col := range m {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if v, ok := values[key]; ok {
			rec[col] = v
		}
	}
	if _, ok := rec[m.KeyColumn()]; !ok {
		rec[m.KeyColumn()] = d.ItemID
	}
	return rec
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
