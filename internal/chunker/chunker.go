// Package chunker 将 ContentUnit 的正文切分成有界、带重叠、尽量不跨章节的分块。
// 这里只做纯计算，没有任何 I/O。
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"ta-content-pipeline/internal/model"
)

// 默认参数，单位是“词”（按空白切分），是 token 数的近似。
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	DefaultMinChunkTokens = 100
)

// Config 是分块参数。
type Config struct {
	MaxChunkTokens int `mapstructure:"max_chunk_tokens" json:"max_chunk_tokens"`
	OverlapTokens  int `mapstructure:"overlap_tokens" json:"overlap_tokens"`
	MinChunkTokens int `mapstructure:"min_chunk_tokens" json:"min_chunk_tokens"`
}

// DefaultConfig 返回默认分块参数 512/64/100。
func DefaultConfig() Config {
	return Config{
		MaxChunkTokens: DefaultMaxChunkTokens,
		OverlapTokens:  DefaultOverlapTokens,
		MinChunkTokens: DefaultMinChunkTokens,
	}
}

// ConfigurationError 表示分块参数非法，启动时即失败。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid chunking configuration: %s %s", e.Field, e.Reason)
}

// Validate 检查参数。窗口步长 max-overlap 必须 >= 1。
func (c Config) Validate() error {
	if c.MaxChunkTokens <= 0 {
		return &ConfigurationError{Field: "max_chunk_tokens", Reason: fmt.Sprintf("must be positive, got %d", c.MaxChunkTokens)}
	}
	if c.OverlapTokens < 0 {
		return &ConfigurationError{Field: "overlap_tokens", Reason: fmt.Sprintf("must not be negative, got %d", c.OverlapTokens)}
	}
	if c.MinChunkTokens < 0 {
		return &ConfigurationError{Field: "min_chunk_tokens", Reason: fmt.Sprintf("must not be negative, got %d", c.MinChunkTokens)}
	}
	if c.OverlapTokens >= c.MaxChunkTokens {
		return &ConfigurationError{
			Field:  "overlap_tokens",
			Reason: fmt.Sprintf("(%d) must be smaller than max_chunk_tokens (%d)", c.OverlapTokens, c.MaxChunkTokens),
		}
	}
	return nil
}

// Chunker 持有一份已校验的配置。
type Chunker struct {
	cfg Config
}

// New 校验配置并创建 Chunker。
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config 返回当前使用的分块参数。
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk 是一次性使用的便捷函数，等价于 New(cfg) 后调用 Chunk。
func Chunk(unit model.ContentUnit, cfg Config) ([]model.Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Chunk(unit), nil
}

// Chunk 把一个单元切分成分块。
// 同样的输入和配置总是得到逐字节相同的文本和相同的 chunk_index 序列。
// chunk_index 在同一单元的所有章节间连续递增，从 0 开始。
func (c *Chunker) Chunk(unit model.ContentUnit) []model.Chunk {
	meta := model.MetadataOf(unit)
	var chunks []model.Chunk
	for _, section := range SplitSections(unit.FullText) {
		for _, text := range c.windows(section) {
			chunks = append(chunks, model.Chunk{
				ContentUnitID: unit.ID,
				ChunkIndex:    len(chunks),
				Text:          text,
				Metadata:      meta,
			})
		}
	}
	return chunks
}

// windows 对单个章节做按词滑窗。
func (c *Chunker) windows(section string) []string {
	words := strings.Fields(section)
	if len(words) == 0 {
		return nil
	}
	// 短章节整体保留，即使低于最小值，也不和相邻章节合并
	if len(words) <= c.cfg.MaxChunkTokens {
		return []string{section}
	}

	step := c.cfg.MaxChunkTokens - c.cfg.OverlapTokens
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + c.cfg.MaxChunkTokens
		if end > len(words) {
			end = len(words)
		}
		// 低于最小值的尾窗直接丢弃，末尾的少量词会因此丢失
		if end-start >= c.cfg.MinChunkTokens {
			out = append(out, strings.Join(words[start:end], " "))
		}
	}
	return out
}

// SplitSections 按二级标题（行首 "##" 后跟空白）切分章节。
// "###" 等更深层级不会切分。章节首尾空白被去掉，空章节被丢弃，顺序保持不变。
func SplitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string
	flush := func() {
		s := strings.TrimSpace(strings.Join(current, "\n"))
		if s != "" {
			sections = append(sections, s)
		}
		current = current[:0]
	}
	for i, line := range lines {
		if i > 0 && isSectionHeading(line, i == len(lines)-1) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return sections
}

// isSectionHeading 判断一行是否以二级标题开头。
// 单独的 "##" 只有在后面还有换行时才算（换行本身就是紧随的空白）。
func isSectionHeading(line string, last bool) bool {
	if !strings.HasPrefix(line, "##") {
		return false
	}
	rest := line[2:]
	if rest == "" {
		return !last
	}
	r := []rune(rest)[0]
	return unicode.IsSpace(r)
}

// CountWords 返回按空白切分的词数。
func CountWords(text string) int {
	return len(strings.Fields(text))
}
