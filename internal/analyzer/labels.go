package analyzer

import (
	"strings"

	"github.com/mailsteward/mailsteward/internal/model"
)

// LabelConfig holds the indicator keyword lists for the heuristic scorers.
type LabelConfig struct {
	SpamKeywords  []string `yaml:"spam_keywords"`
	PromoKeywords []string `yaml:"promo_keywords"`
	SocialDomains []string `yaml:"social_domains"`
}

// DefaultLabelConfig returns the shipped keyword lists.
func DefaultLabelConfig() *LabelConfig {
	return &LabelConfig{
		SpamKeywords: []string{
			"winner", "congratulations", "free money", "click here",
			"act now", "limited time", "viagra", "lottery",
		},
		PromoKeywords: []string{
			"sale", "discount", "% off", "coupon", "deal",
			"unsubscribe", "promotion", "offer expires",
		},
		SocialDomains: []string{
			"facebook.com", "facebookmail.com", "twitter.com", "x.com",
			"linkedin.com", "instagram.com", "pinterest.com", "reddit.com",
		},
	}
}

// LabelClassifier maps Gmail labels to a category and scores spam, promotional
// and social signals from metadata. Explicit Gmail tags always outrank the
// keyword heuristics.
type LabelClassifier struct {
	cfg *LabelConfig
}

// NewLabelClassifier builds the classifier; nil gets the default config.
func NewLabelClassifier(cfg *LabelConfig) *LabelClassifier {
	if cfg == nil {
		cfg = DefaultLabelConfig()
	}
	return &LabelClassifier{cfg: cfg}
}

// categoryLabels is checked in order; the first label present wins. SPAM and
// IMPORTANT come before the CATEGORY_* tabs so Gmail's own verdict dominates.
var categoryLabels = []struct {
	label    string
	category model.GmailCategory
}{
	{"SPAM", model.CategorySpam},
	{"IMPORTANT", model.CategoryImportant},
	{"CATEGORY_PROMOTIONS", model.CategoryPromotions},
	{"CATEGORY_SOCIAL", model.CategorySocial},
	{"CATEGORY_UPDATES", model.CategoryUpdates},
	{"CATEGORY_FORUMS", model.CategoryForums},
	{"CATEGORY_PERSONAL", model.CategoryPrimary},
}

func (c *LabelClassifier) analyze(msg *model.MessageIndex, res *model.AnalyzerResult) {
	res.GmailCategory = model.CategoryPrimary
	for _, cl := range categoryLabels {
		if msg.HasLabel(cl.label) {
			res.GmailCategory = cl.category
			break
		}
	}

	subject := strings.ToLower(msg.Subject)
	snippet := strings.ToLower(msg.Snippet)
	sender := strings.ToLower(msg.Sender)
	domain := senderDomain(msg.Sender)

	var spamInd, promoInd, socialInd []string

	if msg.HasLabel("SPAM") {
		spamInd = appendUnique(spamInd, "label:SPAM")
	}
	for _, kw := range c.cfg.SpamKeywords {
		if strings.Contains(subject, kw) || strings.Contains(snippet, kw) {
			spamInd = appendUnique(spamInd, "keyword:"+kw)
		}
	}

	if msg.HasLabel("CATEGORY_PROMOTIONS") {
		promoInd = appendUnique(promoInd, "label:CATEGORY_PROMOTIONS")
	}
	for _, kw := range c.cfg.PromoKeywords {
		if strings.Contains(subject, kw) || strings.Contains(snippet, kw) {
			promoInd = appendUnique(promoInd, "keyword:"+kw)
		}
	}
	if strings.Contains(sender, "noreply") || strings.Contains(sender, "no-reply") {
		promoInd = appendUnique(promoInd, "sender:noreply")
	}

	if msg.HasLabel("CATEGORY_SOCIAL") {
		socialInd = appendUnique(socialInd, "label:CATEGORY_SOCIAL")
	}
	for _, d := range c.cfg.SocialDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			socialInd = appendUnique(socialInd, "domain:"+d)
		}
	}

	res.SpamScore = indicatorScore(spamInd, "label:SPAM")
	res.PromotionalScore = indicatorScore(promoInd, "label:CATEGORY_PROMOTIONS")
	res.SocialScore = indicatorScore(socialInd, "label:CATEGORY_SOCIAL")
	res.SpamIndicators = spamInd
	res.PromoIndicators = promoInd
	res.SocialIndicators = socialInd
}

// indicatorScore: an explicit Gmail label floors the score at 0.8; each
// heuristic indicator adds 0.25, clipped to one.
func indicatorScore(indicators []string, labelIndicator string) float64 {
	var score float64
	for _, ind := range indicators {
		if ind == labelIndicator {
			if score < 0.8 {
				score = 0.8
			}
			continue
		}
		score += 0.25
	}
	return clip01(score)
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
