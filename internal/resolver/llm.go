package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/llm"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/search"
)

// maxSources is the number of ranked results kept as sources.
const maxSources = 3

const (
	queryPrompt = "あなたは検索クエリ作成の専門家です。" +
		"ユーザーの質問から、検索エンジンで関連性の高い結果が得られる簡潔なクエリを一つだけ作成してください。" +
		"かぎかっこや説明文は付けず、クエリのみを出力してください。"

	glossaryPrompt = "あなたは政治・社会に関する用語を解説する専門家です。" +
		"質問に簡潔かつ正確に答え、関連する用語を4つ挙げてください。" +
		"出力は次の形式のJSONオブジェクトのみとします: " +
		`{"message": "回答", "related_words": ["用語1", "用語2", "用語3", "用語4"]}`

	rankPrompt = "あなたは検索結果を評価する専門家です。" +
		"クエリとの関連性、スニペットの具体性、URLの信頼性、情報の新しさを考慮し、関連性の高い順に並べ替えてください。" +
		"出力は次の形式のJSONオブジェクトのみとします: " +
		`{"results": [{"title": "タイトル", "url": "URL", "snippet": "スニペット"}]}`

	summaryPrompt = "あなたはウェブ検索結果の要約に特化したアシスタントです。" +
		"与えられた検索結果の抜粋をもとに、ユーザーの質問に答える形で200文字程度に要約してください。"
)

// LLMOptions tunes the LLM resolver.
type LLMOptions struct {
	Model     string
	Searcher  search.Searcher
	Results   int // search results requested per latest question
	CacheSize int // glossary answers kept in memory
}

type glossaryAnswer struct {
	Message      string   `json:"message"`
	RelatedWords []string `json:"related_words"`
}

// LLM answers glossary questions directly with the model and latest questions
// through search, ranking and summarization.
type LLM struct {
	client   llm.Client
	model    string
	searcher search.Searcher
	results  int
	cache    *lru.Cache[string, glossaryAnswer]
}

// NewLLM creates an LLM resolver. A nil searcher makes every latest question fail.
func NewLLM(client llm.Client, opts LLMOptions) (*LLM, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, glossaryAnswer](size)
	if err != nil {
		return nil, err
	}
	return &LLM{
		client:   client,
		model:    opts.Model,
		searcher: opts.Searcher,
		results:  opts.Results,
		cache:    cache,
	}, nil
}

// Resolve implements Resolver.
func (r *LLM) Resolve(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
	switch mode {
	case chat.ModeLatest:
		return r.resolveLatest(ctx, text)
	case chat.ModeGlossary:
		return r.resolveGlossary(ctx, text)
	default:
		return chat.Message{}, &chat.InvalidModeError{Mode: mode}
	}
}

func (r *LLM) resolveGlossary(ctx context.Context, text string) (chat.Message, error) {
	key := strings.Join(strings.Fields(text), " ")
	if ans, ok := r.cache.Get(key); ok {
		logger.L.Debug("glossary cache hit", "question", key)
		return chat.NewAssistantMessage(chat.ModeGlossary, ans.Message, nil, append([]string(nil), ans.RelatedWords...)), nil
	}

	raw, err := llm.Ask(ctx, r.client, llm.Exchange{
		Model:       r.model,
		System:      glossaryPrompt,
		User:        text,
		Temperature: 0.7,
		MaxTokens:   250,
		JSON:        true,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("glossary answer: %w", err)
	}

	ans, err := parseGlossary(raw)
	if err != nil {
		logger.L.Warn("malformed glossary answer", "error", err, "raw", raw)
		return chat.Message{}, err
	}
	r.cache.Add(key, ans)

	return chat.NewAssistantMessage(chat.ModeGlossary, ans.Message, nil, append([]string(nil), ans.RelatedWords...)), nil
}

func parseGlossary(raw string) (glossaryAnswer, error) {
	var ans glossaryAnswer
	if err := json.Unmarshal([]byte(stripFence(raw)), &ans); err != nil {
		return glossaryAnswer{}, fmt.Errorf("decode glossary answer: %w", err)
	}
	ans.Message = strings.TrimSpace(ans.Message)
	if ans.Message == "" {
		return glossaryAnswer{}, errors.New("glossary answer has no message")
	}
	words := ans.RelatedWords[:0]
	seen := make(map[string]bool, len(ans.RelatedWords))
	for _, w := range ans.RelatedWords {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	if len(words) == 0 {
		return glossaryAnswer{}, errors.New("glossary answer has no related words")
	}
	ans.RelatedWords = words
	return ans, nil
}

func (r *LLM) resolveLatest(ctx context.Context, text string) (chat.Message, error) {
	if r.searcher == nil {
		return chat.Message{}, errors.New("latest mode requires a search backend")
	}

	query, err := llm.Ask(ctx, r.client, llm.Exchange{
		Model:       r.model,
		System:      queryPrompt,
		User:        text,
		Temperature: 0.7,
		MaxTokens:   60,
	})
	if err != nil {
		if ctx.Err() != nil {
			return chat.Message{}, ctx.Err()
		}
		logger.L.Warn("search query generation failed, using the question as is", "error", err)
		query = text
	}
	query = strings.Trim(query, "\"'「」 ")

	results, err := r.searcher.Search(ctx, query, r.results)
	if err != nil {
		return chat.Message{}, fmt.Errorf("search %q: %w", query, err)
	}
	if len(results) == 0 {
		return chat.Message{}, search.ErrNoResults
	}

	ranked := r.rank(ctx, query, results)

	snippets := make([]string, 0, len(ranked))
	for _, res := range ranked {
		if s := strings.TrimSpace(res.Snippet); s != "" {
			snippets = append(snippets, s)
		}
	}
	if len(snippets) == 0 {
		for _, res := range ranked {
			snippets = append(snippets, res.Title)
		}
	}

	summary, err := llm.Ask(ctx, r.client, llm.Exchange{
		Model:       r.model,
		System:      summaryPrompt,
		User:        fmt.Sprintf("検索結果の抜粋:\n%s\n\n質問: %s", strings.Join(snippets, "\n"), text),
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("summarize search results: %w", err)
	}

	sources := make([]chat.Source, 0, len(ranked))
	for _, res := range ranked {
		title := res.Title
		if title == "" {
			title = res.URL
		}
		sources = append(sources, chat.Source{Title: title, URL: res.URL})
	}
	return chat.NewAssistantMessage(chat.ModeLatest, summary, sources, nil), nil
}

// rank asks the model to order results and keeps the top maxSources. Results
// the model invents are dropped; if nothing usable is left the search order is
// kept.
func (r *LLM) rank(ctx context.Context, query string, results []search.Result) []search.Result {
	fallback := results[:min(len(results), maxSources)]
	if len(results) == 1 {
		return fallback
	}

	listing, err := json.Marshal(results)
	if err != nil {
		return fallback
	}
	raw, err := llm.Ask(ctx, r.client, llm.Exchange{
		Model:       r.model,
		System:      rankPrompt,
		User:        fmt.Sprintf("検索クエリ: %s\n検索結果:\n%s", query, listing),
		Temperature: 0.2,
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		logger.L.Warn("ranking failed, keeping search order", "error", err)
		return fallback
	}

	var ranked struct {
		Results []search.Result `json:"results"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &ranked); err != nil {
		logger.L.Warn("malformed ranking, keeping search order", "error", err)
		return fallback
	}

	known := make(map[string]search.Result, len(results))
	for _, res := range results {
		known[res.URL] = res
	}
	out := make([]search.Result, 0, maxSources)
	for _, res := range ranked.Results {
		orig, ok := known[res.URL]
		if !ok {
			continue
		}
		delete(known, res.URL)
		out = append(out, orig)
		if len(out) == maxSources {
			break
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
