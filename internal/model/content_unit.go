// Package model 定义了流水线中流转的领域对象与数据库/索引中的持久化结构。
package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContentUnit 是上游抽取阶段产出的一篇课程文档（文章、课时小节等）。
// 流水线只读取它，不会修改。
type ContentUnit struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	GradeBand string   `json:"grade_band"`
	TopicPath []string `json:"topic_path,omitempty"`
	Title     string   `json:"title"`
	FullText  string   `json:"full_text"`

	// 以下字段由抽取阶段输出，分块和向量化不使用，原样透传。
	Type       string `json:"type,omitempty"`
	Summary    string `json:"summary,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

// MaxContentUnitIDLength 是 content_unit_id 列 varchar(191) 的长度上限（按字符计）。
const MaxContentUnitIDLength = 191

// InputValidationError 表示一个 ContentUnit 缺少必填字段或字段不合法。
// 该单元会被跳过，但不会中止整个运行。
type InputValidationError struct {
	UnitID  string
	Index   int // 在输入序列中的位置，UnitID 为空时用于定位
	Missing []string
	Invalid []string
}

func (e *InputValidationError) Error() string {
	id := e.UnitID
	if id == "" {
		id = fmt.Sprintf("#%d", e.Index)
	}
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("content unit %s %s", id, strings.Join(parts, "; "))
}

// NewContentUnit 构造并校验一个 ContentUnit，缺少必填字段时直接失败，不做任何默认填充。
func NewContentUnit(id, subject, gradeBand, title, fullText string, topicPath []string) (ContentUnit, error) {
	u := ContentUnit{
		ID:        id,
		Subject:   subject,
		GradeBand: gradeBand,
		Title:     title,
		FullText:  fullText,
	}
	if len(topicPath) > 0 {
		u.TopicPath = append([]string(nil), topicPath...)
	}
	if err := u.Validate(); err != nil {
		return ContentUnit{}, err
	}
	return u, nil
}

// Validate 检查必填字段：id、full_text、subject、grade_band、title。
// topic_path 是可选的。
func (u ContentUnit) Validate() error {
	var missing []string
	if strings.TrimSpace(u.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(u.FullText) == "" {
		missing = append(missing, "full_text")
	}
	if strings.TrimSpace(u.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(u.GradeBand) == "" {
		missing = append(missing, "grade_band")
	}
	if strings.TrimSpace(u.Title) == "" {
		missing = append(missing, "title")
	}
	var invalid []string
	if n := utf8.RuneCountInString(u.ID); n > MaxContentUnitIDLength {
		invalid = append(invalid, fmt.Sprintf("id (%d characters, max %d)", n, MaxContentUnitIDLength))
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &InputValidationError{UnitID: u.ID, Missing: missing, Invalid: invalid}
	}
	return nil
}
