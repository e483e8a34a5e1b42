package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsteward/mailsteward/internal/model"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func msgAt(ageDays int) *model.MessageIndex {
	return &model.MessageIndex{
		ID:     "m1",
		Sender: "alice@example.com",
		Date:   testNow.AddDate(0, 0, -ageDays),
	}
}

func TestImportance_LabelsDominate(t *testing.T) {
	a := NewImportanceAnalyzer(nil)

	msg := msgAt(400)
	msg.Labels = model.Strings{"IMPORTANT"}
	var res model.AnalyzerResult
	a.analyze(msg, testNow, &res)

	assert.Equal(t, model.ImportanceMedium, res.ImportanceLevel)
	assert.Contains(t, []string(res.ImportanceRules), "label-important")
	assert.InDelta(t, 0.5, res.ImportanceScore, 1e-9)
}

func TestImportance_BulkSenderSubtracts(t *testing.T) {
	a := NewImportanceAnalyzer(nil)

	msg := msgAt(400)
	msg.Sender = "noreply@shop.example.com"
	var res model.AnalyzerResult
	a.analyze(msg, testNow, &res)

	assert.Equal(t, 0.0, res.ImportanceScore)
	assert.Equal(t, model.ImportanceLow, res.ImportanceLevel)
	assert.Contains(t, []string(res.ImportanceRules), "bulk-sender")
}

func TestImportance_UrgentAndRecentStack(t *testing.T) {
	a := NewImportanceAnalyzer(nil)

	msg := msgAt(2)
	msg.Subject = "URGENT: contract deadline"
	var res model.AnalyzerResult
	a.analyze(msg, testNow, &res)

	// urgent 0.35 + recent 0.15
	assert.InDelta(t, 0.5, res.ImportanceScore, 1e-9)
	assert.Len(t, res.ImportanceRules, 2)
	assert.InDelta(t, 0.8, res.ImportanceConfidence, 1e-9)
}

func TestDateSize_Buckets(t *testing.T) {
	a := NewDateSizeAnalyzer(nil)

	cases := []struct {
		age      int
		size     int64
		wantAge  model.AgeCategory
		wantSize model.SizeCategory
	}{
		{5, 10 << 10, model.AgeRecent, model.SizeSmall},
		{90, 500 << 10, model.AgeModerate, model.SizeMedium},
		{365, 2 << 20, model.AgeOld, model.SizeLarge},
	}
	for _, c := range cases {
		msg := msgAt(c.age)
		msg.SizeBytes = c.size
		var res model.AnalyzerResult
		a.analyze(msg, testNow, &res)
		assert.Equal(t, c.wantAge, res.AgeCategory, "age %d", c.age)
		assert.Equal(t, c.wantSize, res.SizeCategory, "size %d", c.size)
	}
}

func TestDateSize_RecencyAndPenalty(t *testing.T) {
	a := NewDateSizeAnalyzer(nil)

	msg := msgAt(0)
	msg.SizeBytes = 1 << 10
	var res model.AnalyzerResult
	a.analyze(msg, testNow, &res)
	assert.Equal(t, 1.0, res.RecencyScore)
	assert.Equal(t, 0.0, res.SizePenalty)

	msg = msgAt(800)
	msg.SizeBytes = 20 << 20
	res = model.AnalyzerResult{}
	a.analyze(msg, testNow, &res)
	assert.Equal(t, 0.0, res.RecencyScore)
	assert.Equal(t, 1.0, res.SizePenalty)
}

func TestDateSize_ZeroDateScoresRecent(t *testing.T) {
	a := NewDateSizeAnalyzer(nil)

	var res model.AnalyzerResult
	a.analyze(&model.MessageIndex{ID: "nodate"}, testNow, &res)
	assert.Equal(t, model.AgeRecent, res.AgeCategory)
	assert.Equal(t, 1.0, res.RecencyScore)
}

func TestLabels_ExplicitCategoryWins(t *testing.T) {
	c := NewLabelClassifier(nil)

	msg := msgAt(10)
	msg.Labels = model.Strings{"INBOX", "CATEGORY_SOCIAL"}
	msg.Subject = "huge sale, 50% off everything"
	var res model.AnalyzerResult
	c.analyze(msg, &res)

	assert.Equal(t, model.CategorySocial, res.GmailCategory)
	assert.GreaterOrEqual(t, res.SocialScore, 0.8)
	assert.Greater(t, res.PromotionalScore, 0.0)
}

func TestLabels_SpamLabelFloorsScore(t *testing.T) {
	c := NewLabelClassifier(nil)

	msg := msgAt(10)
	msg.Labels = model.Strings{"SPAM"}
	var res model.AnalyzerResult
	c.analyze(msg, &res)

	assert.Equal(t, model.CategorySpam, res.GmailCategory)
	assert.GreaterOrEqual(t, res.SpamScore, 0.8)
	assert.Contains(t, []string(res.SpamIndicators), "label:SPAM")
}

func TestLabels_SocialDomain(t *testing.T) {
	c := NewLabelClassifier(nil)

	msg := msgAt(10)
	msg.Sender = "notification@facebookmail.com"
	var res model.AnalyzerResult
	c.analyze(msg, &res)

	assert.Equal(t, model.CategoryPrimary, res.GmailCategory)
	assert.Contains(t, []string(res.SocialIndicators), "domain:facebookmail.com")
	assert.InDelta(t, 0.25, res.SocialScore, 1e-9)
}

func TestLabels_IndicatorsDeduped(t *testing.T) {
	c := NewLabelClassifier(nil)

	msg := msgAt(10)
	msg.Subject = "you are a winner, winner!"
	msg.Snippet = "winner announced"
	var res model.AnalyzerResult
	c.analyze(msg, &res)

	count := 0
	for _, ind := range res.SpamIndicators {
		if ind == "keyword:winner" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSet_MergesAllFields(t *testing.T) {
	s := NewSet(nil, nil, nil)

	msg := msgAt(200)
	msg.Labels = model.Strings{"CATEGORY_PROMOTIONS"}
	msg.SizeBytes = 2 << 20
	res := s.Analyze(msg, testNow)

	require.NotNil(t, res)
	assert.Equal(t, Version, res.AnalysisVersion)
	require.NotNil(t, res.AnalysisTimestamp)
	assert.Equal(t, model.AgeOld, res.AgeCategory)
	assert.Equal(t, model.CategoryPromotions, res.GmailCategory)
	assert.NotEmpty(t, res.ImportanceLevel)
}

func TestSet_CacheHitsEquivalentInputs(t *testing.T) {
	s := NewSet(nil, nil, nil)

	a := msgAt(200)
	a.Labels = model.Strings{"INBOX", "UNREAD"}
	b := msgAt(201)
	b.Labels = model.Strings{"UNREAD", "INBOX"}
	b.ID = a.ID

	first := s.Analyze(a, testNow)
	second := s.Analyze(b, testNow)

	assert.Equal(t, 1, s.cache.Len())
	assert.Equal(t, first.ImportanceScore, second.ImportanceScore)
}

func TestCache_VersionInvalidates(t *testing.T) {
	c := NewCache("v1")
	c.Put("k", &model.AnalyzerResult{AnalysisVersion: "v1"})
	_, ok := c.Get("k")
	require.True(t, ok)

	c.version = "v2"
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache("v1")
	c.Put("k", &model.AnalyzerResult{ImportanceScore: 0.5})

	got, ok := c.Get("k")
	require.True(t, ok)
	got.ImportanceScore = 0.9

	again, _ := c.Get("k")
	assert.Equal(t, 0.5, again.ImportanceScore)
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "example.com", senderDomain("Alice <alice@Example.COM>"))
	assert.Equal(t, "", senderDomain("not-an-address"))
	assert.Equal(t, "", senderDomain("trailing@"))
}
