package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/models"
)

// MaxChapter is the last chapter of the novel
const MaxChapter = 120

// ActivityRule prices one kind of reader-reported activity. The amount is
// fixed server-side and the sourceId must name a chapter, so every reader
// can earn each activity at most MaxChapter times.
type ActivityRule struct {
	Pattern *regexp.Regexp
	Amount  int
	Reason  string
}

var activityRules = map[models.XPSource]ActivityRule{
	models.SourceReading: {Pattern: chapterSourcePattern, Amount: 30, Reason: "閱讀第%d回"},
	models.SourceNote:    {Pattern: regexp.MustCompile(`^note-chapter-(\d+)$`), Amount: 10, Reason: "撰寫第%d回筆記"},
}

// ResolveActivity turns a reported (source, sourceId) into the award it earns
func ResolveActivity(userID string, source models.XPSource, sourceID string) (AwardRequest, error) {
	const op = "ResolveActivity"

	rule, ok := activityRules[source]
	if !ok {
		return AwardRequest{}, apperr.New(apperr.InvalidArgument, op, "source %q cannot be reported", source)
	}
	sourceID = strings.TrimSpace(sourceID)
	m := rule.Pattern.FindStringSubmatch(sourceID)
	if m == nil {
		return AwardRequest{}, apperr.New(apperr.InvalidArgument, op, "sourceId %q does not match %s", sourceID, rule.Pattern)
	}
	chapter, err := strconv.Atoi(m[1])
	if err != nil || chapter < 1 || chapter > MaxChapter {
		return AwardRequest{}, apperr.New(apperr.InvalidArgument, op, "chapter must be between 1 and %d", MaxChapter)
	}

	return AwardRequest{
		UserID:   userID,
		Amount:   rule.Amount,
		Reason:   fmt.Sprintf(rule.Reason, chapter),
		Source:   source,
		SourceID: sourceID,
	}, nil
}

// ActivityService rewards reading activity reported by readers themselves
type ActivityService struct {
	policies PolicyResolver
	logger   *logger.Logger
}

// NewActivityService creates a new activity service
func NewActivityService(policies PolicyResolver, log *logger.Logger) *ActivityService {
	if log == nil {
		log = logger.Nop()
	}
	return &ActivityService{policies: policies, logger: log.With("service", "ActivityService")}
}

// RecordActivity awards the fixed amount for the activity through the
// user's reward policy. Reporting the same activity again is a duplicate.
func (s *ActivityService) RecordActivity(ctx context.Context, userID string, source models.XPSource, sourceID string) (*AwardResult, error) {
	req, err := ResolveActivity(userID, source, sourceID)
	if err != nil {
		return nil, err
	}
	policy := s.policies.For(userID)
	result, err := policy.Award(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Activity recorded", "user_id", userID, "source_id", req.SourceID,
		"xp", result.AwardedXP, "duplicate", result.IsDuplicate, "policy", policy.Name())
	return result, nil
}
