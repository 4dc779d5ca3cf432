package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/provider"
)

// keywordCacheSize bounds the keyword extraction cache.
const keywordCacheSize = 1000

// Analyzer asks the chat model to score and tag memory content. Every
// method degrades to a safe default when the model misbehaves; analysis
// must never make storing a memory fail.
type Analyzer struct {
	chat  provider.Provider
	cache *ristretto.Cache
	obs   *observe.Observer
}

func NewAnalyzer(chat provider.Provider, obs *observe.Observer) (*Analyzer, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: keywordCacheSize * 10,
		MaxCost:     keywordCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword cache: %w", err)
	}
	return &Analyzer{chat: chat, cache: cache, obs: obs}, nil
}

// EmotionAndImportance scores content on both axes in [0,1]. Defaults to
// 0.5/0.5 whenever the model fails or answers off-format.
func (a *Analyzer) EmotionAndImportance(ctx context.Context, content string) (intensity, importance float64) {
	intensity, importance = 0.5, 0.5

	prompt := fmt.Sprintf(`请分析以下内容的情感强度和重要性，必须严格按照以下格式返回两个0-1之间的数值：

内容：%s

请严格按照以下格式返回（不要添加任何其他内容）：
情感强度：0.5
重要性：0.5

注意：
1. 数值必须在0到1之间
2. 必须严格按照上述格式
3. 不要添加任何解释或其他内容`, content)

	resp, err := a.chat.Chat(ctx, []provider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		a.obs.Log().Warn().Err(err).Msg("emotion analysis failed, using defaults")
		return intensity, importance
	}

	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "情感强度："):
			if v, ok := scoreAfterColon(line); ok {
				intensity = v
			}
		case strings.Contains(line, "重要性："):
			if v, ok := scoreAfterColon(line); ok {
				importance = v
			}
		}
	}
	return clampScore(intensity), clampScore(importance)
}

// ContextTags extracts up to five context tags. Nil on failure.
func (a *Analyzer) ContextTags(ctx context.Context, content string) []string {
	prompt := fmt.Sprintf(`从以下内容中提取关键的上下文标签（最多5个）：

内容：%s

请直接返回标签列表，每行一个标签。`, content)

	resp, err := a.chat.Chat(ctx, []provider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		a.obs.Log().Warn().Err(err).Msg("context tag extraction failed")
		return nil
	}

	var tags []string
	for _, line := range strings.Split(resp.Content, "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			tags = append(tags, tag)
		}
		if len(tags) == 5 {
			break
		}
	}
	return tags
}

// Keywords extracts up to three search keywords from a query, caching
// results so repeated recalls of the same question stay cheap.
func (a *Analyzer) Keywords(ctx context.Context, query string) []string {
	if cached, found := a.cache.Get(query); found {
		if kws, ok := cached.([]string); ok {
			return kws
		}
	}

	prompt := fmt.Sprintf(`从以下查询中提取重要的关键词（最多3个）：
规则:
1:比如像"我提到过重庆防疫站吗?",就只提取"重庆"和"防疫站",不要提取"提到".
2:要保持原文语言,不要翻译关键词.
查询：%s

请直接返回关键词列表，每行一个关键词，不要包含任何其他内容。
关键词应该是查询中最重要、最具有识别性的词语。`, query)

	var keywords []string
	resp, err := a.chat.Chat(ctx, []provider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		a.obs.Log().Warn().Err(err).Msg("keyword extraction failed")
	} else {
		for _, line := range strings.Split(resp.Content, "\n") {
			if kw := strings.TrimSpace(line); kw != "" {
				keywords = append(keywords, kw)
			}
			if len(keywords) == 3 {
				break
			}
		}
	}

	if len(keywords) == 0 {
		keywords = fallbackKeywords(query)
	}

	a.cache.Set(query, keywords, 1)
	// Set is buffered; Wait makes the entry visible to the next call.
	a.cache.Wait()
	return keywords
}

// MergeContent synthesizes one memory out of several similar ones. The
// inputs must already be sorted most important first.
func (a *Analyzer) MergeContent(ctx context.Context, docs []string) (string, error) {
	var sb strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&sb, "记忆 %d: %s\n", i+1, doc)
	}

	prompt := fmt.Sprintf(`请从以下相似记忆中提取关键信息并合并。这些记忆按重要性排序，前面的记忆更重要：

%s
请合并这些记忆，遵循以下规则：
1. 保留所有事实性内容和关键细节
2. 消除冗余和重复信息
3. 保持时间顺序和因果关系
4. 保留记忆中的情感内容和个人观点
5. 结果应该简洁但不遗漏重要内容

合并后的记忆：`, sb.String())

	resp, err := a.chat.Chat(ctx, []provider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("merge synthesis failed: %w", err)
	}
	merged := strings.TrimSpace(resp.Content)
	if merged == "" {
		return "", fmt.Errorf("merge synthesis returned empty content")
	}
	return merged, nil
}

// Close releases the keyword cache.
func (a *Analyzer) Close() {
	a.cache.Close()
}

func scoreAfterColon(line string) (float64, bool) {
	_, after, found := strings.Cut(line, "：")
	if !found {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(after), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// fallbackKeywords is the no-model path: strip common question particles
// and keep runs of at least two characters.
func fallbackKeywords(query string) []string {
	stop := map[rune]bool{
		'谁': true, '什': true, '么': true, '哪': true, '里': true, '个': true,
		'为': true, '怎': true, '是': true, '的': true, '了': true, '和': true,
		'与': true, '在': true, '吗': true, '?': true, '？': true, ' ': true,
	}

	var keywords []string
	var run []rune
	flush := func() {
		if len(run) >= 2 {
			keywords = append(keywords, string(run))
		}
		run = nil
	}
	for _, r := range query {
		if stop[r] {
			flush()
			continue
		}
		run = append(run, r)
	}
	flush()

	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	return keywords
}
