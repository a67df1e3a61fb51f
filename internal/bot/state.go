package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

// Signup conversation steps, in order. A user walks the chain
// area -> group type -> gender -> age, then the state is cleared and
// matching runs.
const (
	StepArea      = "collecting_area"
	StepGroupType = "collecting_group_type"
	StepGender    = "collecting_gender"
	StepAge       = "collecting_age"
)

// SignupState is the in-flight signup conversation for one phone number.
// It lives in redis under a TTL so abandoned signups expire on their own.
type SignupState struct {
	Step      string `json:"step"`
	Name      string `json:"name"`
	Area      string `json:"area,omitempty"`
	GroupType string `json:"group_type,omitempty"`
	Gender    string `json:"gender,omitempty"`
	AgeRange  string `json:"age_range,omitempty"`
}

// StateStore persists signup conversation state in redis.
type StateStore struct {
	rdb    *redis.Client
	cfg    config.BotConfig
	logger *zap.Logger
}

func NewStateStore(rdb *redis.Client, cfg config.BotConfig, logger *zap.Logger) *StateStore {
	return &StateStore{rdb: rdb, cfg: cfg, logger: logger}
}

func stateKey(number string) string {
	return "signup_state:" + number
}

// Get returns the signup state for a number, or nil when no signup is
// in flight.
func (s *StateStore) Get(ctx context.Context, number string) (*SignupState, error) {
	raw, err := s.rdb.Get(ctx, stateKey(number)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st SignupState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// Corrupt state is unrecoverable, drop it and restart the flow.
		s.logger.Warn("dropping corrupt signup state", zap.String("number", number), zap.Error(err))
		_ = s.rdb.Del(ctx, stateKey(number)).Err()
		return nil, nil
	}
	return &st, nil
}

// Put stores the state and refreshes the signup TTL.
func (s *StateStore) Put(ctx context.Context, number string, st *SignupState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.SetEx(ctx, stateKey(number), raw, s.cfg.StateTimeout).Err()
}

// Clear removes any in-flight signup for the number.
func (s *StateStore) Clear(ctx context.Context, number string) error {
	return s.rdb.Del(ctx, stateKey(number)).Err()
}

// ExtractOption matches free-form message text against a list of known
// options, so "I'm in the Northern Quarter tonight" resolves to
// "northern quarter". The longest matching option wins, which keeps
// "female" from resolving to "male".
func ExtractOption(text string, options []string) (string, bool) {
	lower := strings.ToLower(text)
	best := ""
	for _, opt := range options {
		o := strings.ToLower(opt)
		if strings.Contains(lower, o) && len(o) > len(best) {
			best = o
		}
	}
	return best, best != ""
}
