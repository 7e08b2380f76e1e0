package scoring

import (
	"strings"

	"github.com/leadchat/pkg/models"
)

// Topic maps an interest tag to the keywords that reveal it.
type Topic struct {
	Name     string
	Keywords []string
}

// DefaultTopics is the interest catalog, scanned in this order.
var DefaultTopics = []Topic{
	{Name: "pricing", Keywords: []string{"price", "cost", "expensive", "cheap", "budget", "quote"}},
	{Name: "services", Keywords: []string{"service", "help", "support", "assist", "offer"}},
	{Name: "products", Keywords: []string{"product", "feature", "buy", "purchase", "order"}},
	{Name: "contact", Keywords: []string{"contact", "call", "email", "reach", "phone"}},
	{Name: "demo", Keywords: []string{"demo", "trial", "test", "try", "preview"}},
	{Name: "technical", Keywords: []string{"how", "technical", "setup", "install", "configure"}},
}

// DefaultBuyingKeywords signal purchase intent in recent user messages.
var DefaultBuyingKeywords = []string{
	"price", "cost", "buy", "purchase", "order", "quote",
	"demo", "trial", "contact", "call", "email", "info",
	"interested", "want", "need", "help", "service",
}

// intentWindow is how many of the latest user messages the intent check reads.
const intentWindow = 3

// MatchTopics returns the topics whose keywords appear in text, in catalog order.
func MatchTopics(topics []Topic, text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, topic := range topics {
		if containsAny(lower, topic.Keywords) {
			matched = append(matched, topic.Name)
		}
	}
	return matched
}

// HasBuyingIntent reports whether the last three user messages of the
// transcript contain a buying keyword. Assistant replies are ignored.
func HasBuyingIntent(keywords []string, transcript []models.Message) bool {
	var parts []string
	for i := len(transcript) - 1; i >= 0 && len(parts) < intentWindow; i-- {
		if transcript[i].Role == models.RoleUser {
			parts = append(parts, strings.ToLower(transcript[i].Content))
		}
	}
	if len(parts) == 0 {
		return false
	}
	return containsAny(strings.Join(parts, " "), keywords)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
