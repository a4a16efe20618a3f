package enrichment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lysyi3m/aifeed/app/content"
)

const (
	promptChars   = 4000
	summaryChars  = 150
	maxKeywords   = 5
	fallbackScore = 3
	neutralScore  = 5
	minScore      = 1
	maxScore      = 10
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Analysis is the model's verdict on one item.
type Analysis struct {
	Categories      []string `json:"categories"`
	ImportanceScore *int     `json:"importance_score"`
	Keywords        []string `json:"keywords"`
	Summary         string   `json:"suggested_short_summary"`
}

// parseAnalysis extracts the outermost JSON object from a model reply,
// tolerating prose around it.
func parseAnalysis(reply string) (Analysis, error) {
	raw := jsonObject.FindString(reply)
	if raw == "" {
		return Analysis{}, &ParseError{Response: reply}
	}

	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Analysis{}, &ParseError{Response: reply, Err: err}
	}
	return a, nil
}

// apply copies a parsed analysis onto item, normalizing every field.
func apply(item content.Item, a Analysis) content.Item {
	item.Categories = canonicalCategories(a.Categories)

	item.ImportanceScore = neutralScore
	if a.ImportanceScore != nil {
		item.ImportanceScore = min(max(*a.ImportanceScore, minScore), maxScore)
	}

	keywords := make([]string, 0, maxKeywords)
	for _, k := range a.Keywords {
		if k = strings.TrimSpace(k); k != "" && len(keywords) < maxKeywords {
			keywords = append(keywords, k)
		}
	}
	item.Keywords = keywords

	if s := strings.TrimSpace(a.Summary); s != "" {
		item.Summary = s
	} else {
		item.Summary = fallbackSummary(item)
	}
	return item
}

// defaultAnalysis is used when the model could not be consulted.
func defaultAnalysis(item content.Item, score int) content.Item {
	item.Categories = []string{content.Uncategorized}
	item.ImportanceScore = score
	item.Keywords = []string{}
	item.Summary = fallbackSummary(item)
	return item
}

// fallbackSummary never returns an empty string for an item with a title.
func fallbackSummary(item content.Item) string {
	if s := strings.TrimSpace(item.Summary); s != "" {
		return s
	}
	text := strings.TrimSpace(item.AnalysisText())
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	return content.Truncate(text, summaryChars)
}

func canonicalCategories(names []string) []string {
	seen := make(map[string]bool, len(names))
	categories := make([]string, 0, len(names))
	for _, name := range names {
		category, ok := content.CanonicalCategory(name)
		if !ok || seen[category] {
			continue
		}
		seen[category] = true
		categories = append(categories, category)
	}
	if len(categories) == 0 {
		return []string{content.Uncategorized}
	}
	return categories
}

func buildPrompt(item content.Item) string {
	var b strings.Builder
	b.WriteString("Analyze this AI-related content:\n")
	b.WriteString("Title: " + item.Title + "\n")
	b.WriteString("Content: " + content.Clip(item.AnalysisText(), promptChars) + "\n\n")
	b.WriteString("Provide your analysis in a VALID JSON format with the following fields:\n")
	b.WriteString(`1. "categories": A list of 1-3 relevant topic categories from this specific list: [` + strings.Join(content.Categories, ", ") + "].\n")
	b.WriteString(`2. "importance_score": An integer from 1 (low) to 10 (high) assessing relevance for someone tracking general AI developments. Consider novelty, impact, and breadth of interest.` + "\n")
	b.WriteString(`3. "keywords": A list of 3-5 relevant keywords or keyphrases (can include named entities like 'GPT-4', 'TensorFlow').` + "\n")
	b.WriteString(`4. "suggested_short_summary": A very concise one-sentence summary (max 100 characters).` + "\n\n")
	b.WriteString(`JSON response should look like:
{
    "categories": ["Research", "Applications"],
    "importance_score": 8,
    "keywords": ["transformer architecture", "large language models", "AI ethics"],
    "suggested_short_summary": "A new paper explores transformer efficiency."
}`)
	return b.String()
}

func buildSummaryPrompt(text string) string {
	return fmt.Sprintf("Please provide a concise summary of the following text. The summary should be under %d characters, "+
		"capture the main points, and be written in a clear, engaging style.\n\nText to summarize:\n%s",
		summaryChars, content.Clip(text, promptChars))
}

const summarySystemPrompt = "You are a helpful AI assistant that summarizes text concisely."

const systemPrompt = "You are an expert AI content analyst. Respond with VALID JSON only, adhering strictly to the requested schema. Do not include any explanatory text before or after the JSON object."
