package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Response kinds understood by the bot. The registry holds one template
// per kind; unknown or missing kinds fall back to the compiled-in
// defaults below.
const (
	RespWelcome            = "welcome"
	RespHelp               = "help"
	RespError              = "error"
	RespRateLimit          = "rate_limit"
	RespSignupStart        = "signup_start"
	RespSignupAreaInvalid  = "signup_area_invalid"
	RespSignupGroupType    = "signup_group_type"
	RespSignupTypeInvalid  = "signup_group_type_invalid"
	RespSignupGender       = "signup_gender"
	RespSignupGenderBad    = "signup_gender_invalid"
	RespSignupAge          = "signup_age"
	RespSignupAgeInvalid   = "signup_age_invalid"
	RespSignupSuccess      = "signup_success"
	RespSignupTimeout      = "signup_timeout"
	RespGroupWaiting       = "group_waiting"
	RespGroupCreated       = "group_created"
	RespGroupReady         = "group_ready"
	RespGroupRules         = "group_rules"
	RespGroupCancelled     = "group_cancelled"
	RespFirstBar           = "first_bar"
	RespNextBar            = "next_bar"
	RespFindingAlternative = "finding_alternative"
	RespNoPending          = "no_pending_confirmation"
	RespCrawlComplete      = "crawl_complete"
	RespGoodbye            = "goodbye"
	RespClosingTime        = "closing_time"
)

// defaultResponses are the stock templates. Placeholders use {name}
// tokens filled by Render.
var defaultResponses = map[string]string{
	RespWelcome:            "Hi! I can help you find a beer crawl group. Just say 'I want to join a beer crawl' to get started! 🍺",
	RespHelp:               "I can help you:\n• Join a beer crawl: 'I want to join a beer crawl'\n• Find groups in specific areas\n• Create new groups\n\nJust tell me what you'd like to do! 🍺",
	RespError:              "Sorry, there was an error processing your request. Please try again.",
	RespRateLimit:          "⚠️ Please slow down! You're sending too many messages. Try again in {minutes} minutes.",
	RespSignupStart:        "🍺 Welcome to Beer Crawl! Let's get you set up.\n\nFirst, which area would you like to explore?\n\n{areas}\n\nJust type the area name!",
	RespSignupAreaInvalid:  "🤔 I don't recognize that area. Please choose from:\n\n{areas}",
	RespSignupGroupType:    "Great choice! 🎯 Now, what type of group would you prefer?\n\n{group_types}\n\nJust type your preference!",
	RespSignupTypeInvalid:  "Please choose from these group types:\n\n{group_types}",
	RespSignupGender:       "Perfect! 👤 What's your gender? (This helps with group matching)\n\n{genders}\n\nOr just type your preference!",
	RespSignupGenderBad:    "Please choose from:\n\n{genders}",
	RespSignupAge:          "Almost done! 🎂 What's your age range?\n\n{age_ranges}\n\nJust type the range!",
	RespSignupAgeInvalid:   "Please choose from these age ranges:\n\n{age_ranges}",
	RespSignupSuccess:      "🎉 Perfect! You're all set up!\n\n📋 Your preferences:\n• Area: {area}\n• Group type: {group_type}\n• Gender: {gender}\n• Age: {age_range}\n\nLet me find you a perfect group...",
	RespSignupTimeout:      "⏰ Your signup session has timed out. Type 'join' to start again!",
	RespGroupWaiting:       "Finding a group for you in {area}. Currently {current} members waiting. Need {needed} more to start!",
	RespGroupCreated:       "Created a new group for {area}! Looking for {needed} more people to join. I'll let you know when we're ready!",
	RespGroupReady:         "🍺 Found {current} people looking to go out in {area}. Shall I make a WhatsApp group for you all? Reply 'yes' to start!",
	RespGroupRules:         "🍺 Welcome to your Beer Crawl group! Here are the rules:\n\n1. Be respectful to everyone\n2. Stay with the group\n3. Drink responsibly\n4. Have fun!\n\nFirst bar coming up...",
	RespGroupCancelled:     "Your beer crawl has been cancelled. You can join another group anytime!",
	RespFirstBar:           "🍺 First Bar!\n\n📍 {bar_name} - {address}\n\n⏰ Meeting time: {time}\n🗺️ Map: {map_link}\n\nSee you there! 🍻",
	RespNextBar:            "🍻 Time for the next bar!\n\n📍 {bar_name} - {address}\n\n⏰ Meeting time: {time}\n🗺️ Map: {map_link}\n\nSee you there! 🚶‍♂️🚶‍♀️",
	RespFindingAlternative: "No worries! Let me find another group for you...",
	RespNoPending:          "No pending group confirmation found.",
	RespCrawlComplete:      "🎉 Beer crawl complete! Hope you had an amazing time! Rate your experience and share photos!",
	RespGoodbye:            "Thanks for using Beer Crawl! Have a great time! 🍻",
	RespClosingTime:        "🌙 It's getting late! The group will be closed shortly. Thanks for joining the beer crawl tonight!",
}

const responsesKey = "bot_responses"

// ResponseService is the runtime-editable bot response registry, stored
// as a single JSON document in Redis. Reads degrade to the defaults when
// Redis is unavailable.
type ResponseService struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewResponseService creates a new response registry instance
func NewResponseService(rdb *redis.Client, logger *zap.Logger) *ResponseService {
	return &ResponseService{rdb: rdb, logger: logger}
}

// Get returns the template for a kind, falling back to the default when
// the stored set lacks it.
func (s *ResponseService) Get(ctx context.Context, kind string) string {
	stored, err := s.load(ctx)
	if err == nil {
		if tmpl, ok := stored[kind]; ok && tmpl != "" {
			return tmpl
		}
	} else {
		s.logger.Warn("response registry unavailable, using defaults", zap.Error(err))
	}
	return defaultResponses[kind]
}

// Render returns the template for a kind with {name} placeholders
// substituted.
func (s *ResponseService) Render(ctx context.Context, kind string, vars map[string]string) string {
	tmpl := s.Get(ctx, kind)
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", v)
	}
	return tmpl
}

// All returns the effective template set: defaults overlaid with any
// stored overrides.
func (s *ResponseService) All(ctx context.Context) (map[string]string, error) {
	merged := make(map[string]string, len(defaultResponses))
	for k, v := range defaultResponses {
		merged[k] = v
	}
	stored, err := s.load(ctx)
	if err != nil {
		return merged, err
	}
	for k, v := range stored {
		if v != "" {
			merged[k] = v
		}
	}
	return merged, nil
}

// Save replaces the stored overrides. Kinds outside the known set are
// rejected so typos do not silently create dead templates.
func (s *ResponseService) Save(ctx context.Context, responses map[string]string) error {
	for kind := range responses {
		if _, ok := defaultResponses[kind]; !ok {
			return fmt.Errorf("%w: unknown response kind %q", ErrValidation, kind)
		}
	}
	raw, err := json.Marshal(responses)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, responsesKey, raw, 0).Err()
}

func (s *ResponseService) load(ctx context.Context) (map[string]string, error) {
	raw, err := s.rdb.Get(ctx, responsesKey).Result()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored map[string]string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("corrupt response registry: %w", err)
	}
	return stored, nil
}
