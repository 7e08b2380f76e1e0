package leads

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/leadchat/pkg/models"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips markup and collapses whitespace to single spaces.
func sanitizeText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeURL keeps http(s) URLs and drops anything else.
func sanitizeURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

func sanitizeEmail(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Sanitize returns a copy of lead with every visitor-supplied string cleaned.
func Sanitize(lead models.Lead) models.Lead {
	out := lead.Clone()
	out.ID = sanitizeText(lead.ID)
	out.Email = sanitizeEmail(lead.Email)
	out.Name = sanitizeText(lead.Name)
	out.Phone = sanitizeText(lead.Phone)
	out.Source = sanitizeURL(lead.Source)
	out.UserAgent = sanitizeText(lead.UserAgent)
	out.ScreenResolution = sanitizeText(lead.ScreenResolution)
	out.Timezone = sanitizeText(lead.Timezone)
	out.Referrer = sanitizeURL(lead.Referrer)

	status := models.LeadStatus(sanitizeText(string(lead.Status)))
	if !models.ValidStatus(status) {
		status = models.StatusLead
	}
	out.Status = status

	if out.Score < 0 {
		out.Score = 0
	}
	if out.ConversationMessages < 0 {
		out.ConversationMessages = 0
	}

	interests := make([]string, 0, len(lead.Interests))
	for _, topic := range lead.Interests {
		if t := sanitizeText(topic); t != "" {
			interests = append(interests, t)
		}
	}
	out.Interests = interests

	for i := range out.Interactions {
		out.Interactions[i].Type = sanitizeText(out.Interactions[i].Type)
		out.Interactions[i].Title = sanitizeText(out.Interactions[i].Title)
		out.Interactions[i].URL = sanitizeURL(out.Interactions[i].URL)
	}
	return out
}
