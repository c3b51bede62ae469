package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

// Post is one social media publication.
type Post struct {
	Type         string   `json:"type"`     // concept, interaction, tip, quote, news
	Schedule     string   `json:"schedule"` // HH:MM publish slot
	Text         string   `json:"text"`
	Hashtags     []string `json:"hashtags"`
	CallToAction string   `json:"call_to_action"`
	VisualIdeas  []string `json:"visual_ideas"`
	Goal         string   `json:"goal"`
}

// SocialCreator derives daily social posts from article content. An
// unusable model response degrades to two builtin default posts so a
// publishing run never comes up empty.
type SocialCreator struct {
	*Base
}

// NewSocialCreator creates the social post agent.
func NewSocialCreator(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *SocialCreator {
	if cfg.Name == "" {
		cfg.Name = "social_creator"
	}
	sc := &SocialCreator{}
	sc.Base = New(cfg, invoker, store, registry, logger, sc.prompt, sc.parsePosts)
	return sc
}

// CreatePosts builds two daily posts from the article.
func (sc *SocialCreator) CreatePosts(ctx context.Context, article *Article) ([]Post, error) {
	if article == nil || strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("article content is empty")
	}

	result, err := sc.Process(ctx, map[string]any{
		"title":    article.Title,
		"excerpt":  truncate(article.Content, 3000),
		"keywords": article.Tags,
	})
	if err != nil {
		return nil, err
	}

	posts := parsePostList(result.Data["posts"])
	if len(posts) == 0 {
		sc.logger.Warn("no usable posts in response, using defaults",
			zap.String("title", article.Title))
		return DefaultPosts(article.Title), nil
	}
	return posts, nil
}

func (sc *SocialCreator) prompt(input map[string]any) (string, error) {
	title, _ := input["title"].(string)
	excerpt, _ := input["excerpt"].(string)
	if strings.TrimSpace(excerpt) == "" {
		return "", fmt.Errorf("missing article excerpt")
	}

	var b strings.Builder
	b.WriteString("# TCM Social Media Posts\n\n")
	b.WriteString("Create 2 daily social posts from the article below: one educational\n")
	b.WriteString("concept post for the 09:00 slot and one interactive question or\n")
	b.WriteString("practical tip for the 17:00 slot. 100-200 words each, 3-5 hashtags,\n")
	b.WriteString("at most 2 emojis, a clear call to action, and visual suggestions.\n\n")
	fmt.Fprintf(&b, "## Article: %s\n\n%s\n\n", title, excerpt)
	b.WriteString("## Response format (JSON only)\n\n")
	b.WriteString(`{"posts": [{"type": "concept", "schedule": "09:00", "text": "...", ` +
		`"hashtags": ["#TCM"], "call_to_action": "...", "visual_ideas": ["..."], "goal": "..."}]}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (sc *SocialCreator) parsePosts(raw string) (*Result, error) {
	data, err := extractJSON(raw)
	if err != nil {
		return &Result{
			Status: StatusDegraded,
			Data:   map[string]any{},
			Raw:    raw,
			Reason: "response was not valid JSON",
		}, nil
	}
	if _, ok := data["posts"].([]any); !ok {
		return &Result{
			Status: StatusDegraded,
			Data:   data,
			Raw:    raw,
			Reason: "response JSON has no posts list",
		}, nil
	}
	return &Result{Status: StatusOK, Data: data, Raw: raw}, nil
}

func parsePostList(v any) []Post {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	posts := make([]Post, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := stringValue(m, "text", "")
		if text == "" {
			continue
		}
		posts = append(posts, Post{
			Type:         stringValue(m, "type", "concept"),
			Schedule:     stringValue(m, "schedule", "09:00"),
			Text:         text,
			Hashtags:     stringSlice(m["hashtags"]),
			CallToAction: stringValue(m, "call_to_action", ""),
			VisualIdeas:  stringSlice(m["visual_ideas"]),
			Goal:         stringValue(m, "goal", ""),
		})
	}
	return posts
}

// DefaultPosts returns the builtin fallback pair used when post
// generation produced nothing usable.
func DefaultPosts(topic string) []Post {
	if topic == "" {
		topic = "Traditional Chinese Medicine"
	}
	return []Post{
		{
			Type:     "concept",
			Schedule: "09:00",
			Text: fmt.Sprintf("Did you know? In Traditional Chinese Medicine, vital energy (Qi) "+
				"is the foundation of health. Today's topic, %s, builds on this idea: "+
				"balancing the body's energy helps prevent imbalances before they appear.", topic),
			Hashtags:     []string{"#TCM", "#Qi", "#NaturalHealth"},
			CallToAction: "Tell us in the comments if you were familiar with this concept!",
			VisualIdeas:  []string{"illustration of the body's meridians"},
			Goal:         "educate on a core TCM concept",
		},
		{
			Type:         "interaction",
			Schedule:     "17:00",
			Text:         "Which TCM practice do you prefer to unwind: acupuncture, qi gong, or herbal teas?",
			Hashtags:     []string{"#TCM", "#Wellness", "#NaturalHealth"},
			CallToAction: "Share your experience in the comments!",
			VisualIdeas:  []string{"group practicing tai chi in a park"},
			Goal:         "engage the community",
		},
	}
}
