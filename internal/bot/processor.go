package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/services"
)

// Sender delivers outbound WhatsApp messages.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// Processor executes queued tasks: it runs inbound messages through the
// signup and intent pipeline, delivers outbound messages, and moves
// groups along their crawl.
type Processor struct {
	matcher   *services.MatcherService
	crawl     *services.CrawlService
	responses *services.ResponseService
	states    *StateStore
	enq       *Enqueuer
	sender    Sender
	rdb       *redis.Client
	cfg       config.BotConfig
	crawlCfg  config.CrawlConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewProcessor(
	matcher *services.MatcherService,
	crawl *services.CrawlService,
	responses *services.ResponseService,
	states *StateStore,
	enq *Enqueuer,
	sender Sender,
	rdb *redis.Client,
	cfg config.BotConfig,
	crawlCfg config.CrawlConfig,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		matcher:   matcher,
		crawl:     crawl,
		responses: responses,
		states:    states,
		enq:       enq,
		sender:    sender,
		rdb:       rdb,
		cfg:       cfg,
		crawlCfg:  crawlCfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle dispatches one task envelope. Errors bubble up to the consumer,
// which owns retry and dead-letter handling.
func (p *Processor) Handle(ctx context.Context, env *TaskEnvelope) error {
	switch env.Type {
	case TaskProcessMessage:
		var payload ProcessMessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", env.Type, err)
		}
		return p.handleInbound(ctx, payload)
	case TaskSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", env.Type, err)
		}
		return p.sender.SendText(ctx, payload.To, payload.Text)
	case TaskProgressGroup:
		var payload GroupTaskPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", env.Type, err)
		}
		return p.handleProgress(ctx, payload.GroupID)
	case TaskEndGroup:
		var payload GroupTaskPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", env.Type, err)
		}
		return p.handleEnd(ctx, payload.GroupID)
	default:
		// Unknown types are dropped rather than retried, they will
		// never succeed.
		p.logger.Warn("dropping task with unknown type",
			zap.String("task_id", env.ID),
			zap.String("type", env.Type),
		)
		return nil
	}
}

func (p *Processor) handleInbound(ctx context.Context, msg ProcessMessagePayload) error {
	state, err := p.states.Get(ctx, msg.Sender)
	if err != nil {
		return err
	}
	if state != nil {
		return p.advanceSignup(ctx, msg, state)
	}

	switch Classify(msg.Text) {
	case IntentJoin:
		return p.handleJoin(ctx, msg)
	case IntentConfirm:
		return p.handleConfirm(ctx, msg)
	case IntentRegroup:
		return p.handleRegroup(ctx, msg)
	case IntentHelp:
		return p.reply(ctx, msg.Sender, services.RespHelp, map[string]string{"name": msg.Name})
	default:
		return p.reply(ctx, msg.Sender, services.RespWelcome, map[string]string{"name": msg.Name})
	}
}

// handleJoin starts the signup conversation for unknown numbers and
// goes straight to matching for users who already signed up.
func (p *Processor) handleJoin(ctx context.Context, msg ProcessMessagePayload) error {
	user, err := p.matcher.GetUser(ctx, msg.Sender)
	if errors.Is(err, services.ErrNotFound) {
		if err := p.states.Put(ctx, msg.Sender, &SignupState{Step: StepArea, Name: msg.Name}); err != nil {
			return err
		}
		return p.reply(ctx, msg.Sender, services.RespSignupStart, map[string]string{
			"name":  msg.Name,
			"areas": optionList(p.cfg.Areas),
		})
	}
	if err != nil {
		return err
	}
	return p.findAndAnnounce(ctx, user.WhatsAppNumber)
}

// advanceSignup consumes one answer in the signup conversation. An
// unrecognized answer re-asks the same question without losing progress.
func (p *Processor) advanceSignup(ctx context.Context, msg ProcessMessagePayload, state *SignupState) error {
	switch state.Step {
	case StepArea:
		area, ok := ExtractOption(msg.Text, p.cfg.Areas)
		if !ok {
			return p.reply(ctx, msg.Sender, services.RespSignupAreaInvalid, map[string]string{
				"areas": optionList(p.cfg.Areas),
			})
		}
		state.Area = area
		state.Step = StepGroupType
		if err := p.states.Put(ctx, msg.Sender, state); err != nil {
			return err
		}
		return p.reply(ctx, msg.Sender, services.RespSignupGroupType, map[string]string{
			"group_types": optionList(p.cfg.GroupTypes),
		})

	case StepGroupType:
		groupType, ok := ExtractOption(msg.Text, p.cfg.GroupTypes)
		if !ok {
			return p.reply(ctx, msg.Sender, services.RespSignupTypeInvalid, map[string]string{
				"group_types": optionList(p.cfg.GroupTypes),
			})
		}
		state.GroupType = groupType
		state.Step = StepGender
		if err := p.states.Put(ctx, msg.Sender, state); err != nil {
			return err
		}
		return p.reply(ctx, msg.Sender, services.RespSignupGender, map[string]string{
			"genders": optionList(p.cfg.Genders),
		})

	case StepGender:
		gender, ok := ExtractOption(msg.Text, p.cfg.Genders)
		if !ok {
			return p.reply(ctx, msg.Sender, services.RespSignupGenderBad, map[string]string{
				"genders": optionList(p.cfg.Genders),
			})
		}
		state.Gender = gender
		state.Step = StepAge
		if err := p.states.Put(ctx, msg.Sender, state); err != nil {
			return err
		}
		return p.reply(ctx, msg.Sender, services.RespSignupAge, map[string]string{
			"age_ranges": optionList(p.cfg.AgeRanges),
		})

	case StepAge:
		ageRange, ok := ExtractOption(msg.Text, p.cfg.AgeRanges)
		if !ok {
			return p.reply(ctx, msg.Sender, services.RespSignupAgeInvalid, map[string]string{
				"age_ranges": optionList(p.cfg.AgeRanges),
			})
		}
		state.AgeRange = ageRange
		return p.completeSignup(ctx, msg.Sender, state)

	default:
		// Unknown step means stale state from an older deploy. Restart.
		if err := p.states.Clear(ctx, msg.Sender); err != nil {
			return err
		}
		return p.reply(ctx, msg.Sender, services.RespSignupTimeout, nil)
	}
}

func (p *Processor) completeSignup(ctx context.Context, sender string, state *SignupState) error {
	_, _, err := p.matcher.Signup(ctx, &services.SignupRequest{
		WhatsAppNumber:     sender,
		PreferredArea:      state.Area,
		PreferredGroupType: state.GroupType,
		Gender:             state.Gender,
		AgeRange:           state.AgeRange,
	})
	if err != nil {
		return err
	}
	if err := p.states.Clear(ctx, sender); err != nil {
		return err
	}
	if err := p.reply(ctx, sender, services.RespSignupSuccess, map[string]string{
		"area":       state.Area,
		"group_type": state.GroupType,
		"gender":     state.Gender,
		"age_range":  state.AgeRange,
	}); err != nil {
		return err
	}
	return p.findAndAnnounce(ctx, sender)
}

// findAndAnnounce matches the user into a group and tells everyone
// where the group stands. When the group hits its minimum, every member
// gets asked to confirm and the group id is parked under each member's
// pending key.
func (p *Processor) findAndAnnounce(ctx context.Context, sender string) error {
	res, err := p.matcher.FindGroup(ctx, sender)
	if err != nil {
		return err
	}
	group := res.Group
	needed := group.MinMembers - group.CurrentMembers
	if needed < 0 {
		needed = 0
	}

	if res.ReadyToStart && group.Status == models.GroupStatusForming {
		members, err := p.matcher.GroupMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		vars := map[string]string{
			"area":    group.Area,
			"current": strconv.Itoa(group.CurrentMembers),
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			if err := p.rdb.SetEx(ctx, pendingKey(m.User.WhatsAppNumber),
				strconv.FormatUint(uint64(group.ID), 10), p.cfg.StateTimeout).Err(); err != nil {
				return err
			}
			if err := p.reply(ctx, m.User.WhatsAppNumber, services.RespGroupReady, vars); err != nil {
				return err
			}
		}
		return nil
	}

	kind := services.RespGroupWaiting
	if res.Created {
		kind = services.RespGroupCreated
	}
	return p.reply(ctx, sender, kind, map[string]string{
		"area":    group.Area,
		"current": strconv.Itoa(group.CurrentMembers),
		"needed":  strconv.Itoa(needed),
	})
}

// handleConfirm starts the crawl the sender was asked to confirm. The
// first member to reply yes wins; everyone else's pending keys are
// cleared when the group goes active.
func (p *Processor) handleConfirm(ctx context.Context, msg ProcessMessagePayload) error {
	raw, err := p.rdb.Get(ctx, pendingKey(msg.Sender)).Result()
	if errors.Is(err, redis.Nil) {
		return p.reply(ctx, msg.Sender, services.RespNoPending, nil)
	}
	if err != nil {
		return err
	}
	groupID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		_ = p.rdb.Del(ctx, pendingKey(msg.Sender)).Err()
		return p.reply(ctx, msg.Sender, services.RespNoPending, nil)
	}

	start, err := p.crawl.Start(ctx, uint(groupID))
	if errors.Is(err, services.ErrConflict) {
		// Someone else confirmed first and the group is already active.
		_ = p.rdb.Del(ctx, pendingKey(msg.Sender)).Err()
		return nil
	}
	if err != nil {
		return err
	}

	members, err := p.matcher.GroupMembers(ctx, uint(groupID))
	if err != nil {
		return err
	}
	barVars := map[string]string{
		"bar_name": start.FirstBar.Name,
		"address":  start.FirstBar.Address,
		"time":     start.MeetingTime.Format("15:04"),
		"map_link": start.MapLink,
	}
	for _, m := range members {
		if m.User == nil {
			continue
		}
		_ = p.rdb.Del(ctx, pendingKey(m.User.WhatsAppNumber)).Err()
		if err := p.reply(ctx, m.User.WhatsAppNumber, services.RespGroupRules, nil); err != nil {
			return err
		}
		if err := p.reply(ctx, m.User.WhatsAppNumber, services.RespFirstBar, barVars); err != nil {
			return err
		}
	}
	return nil
}

// handleRegroup pulls the sender out of their forming group and matches
// them again.
func (p *Processor) handleRegroup(ctx context.Context, msg ProcessMessagePayload) error {
	err := p.matcher.LeaveGroup(ctx, msg.Sender)
	if err != nil && !errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrConflict) {
		return err
	}
	if err := p.reply(ctx, msg.Sender, services.RespFindingAlternative, nil); err != nil {
		return err
	}
	return p.findAndAnnounce(ctx, msg.Sender)
}

// handleProgress moves an active group to its next bar. Past the cutoff
// hour, or once the area has no bar to move to, the crawl is wound down
// instead.
func (p *Processor) handleProgress(ctx context.Context, groupID uint) error {
	if p.now().Hour() >= p.crawlCfg.CutoffHour {
		return p.handleEnd(ctx, groupID)
	}

	next, err := p.crawl.NextBar(ctx, groupID)
	if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
		return p.handleEnd(ctx, groupID)
	}
	if err != nil {
		return err
	}

	members, err := p.matcher.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	vars := map[string]string{
		"bar_name": next.Bar.Name,
		"address":  next.Bar.Address,
		"time":     next.MeetingTime.Format("15:04"),
		"map_link": next.MapLink,
	}
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if err := p.reply(ctx, m.User.WhatsAppNumber, services.RespNextBar, vars); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleEnd(ctx context.Context, groupID uint) error {
	group, err := p.crawl.End(ctx, groupID)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	kind := services.RespCrawlComplete
	if group.Status == models.GroupStatusCancelled {
		kind = services.RespGroupCancelled
	} else if p.now().Hour() >= p.crawlCfg.CutoffHour {
		kind = services.RespClosingTime
	}
	members, err := p.matcher.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if err := p.reply(ctx, m.User.WhatsAppNumber, kind, nil); err != nil {
			return err
		}
	}
	return nil
}

// reply renders a template and queues it for delivery. Delivery retries
// happen on the send task, not here.
func (p *Processor) reply(ctx context.Context, to, kind string, vars map[string]string) error {
	text := p.responses.Render(ctx, kind, vars)
	return p.enq.SendMessage(ctx, SendMessagePayload{To: to, Text: text})
}

func pendingKey(number string) string {
	return "pending_group:" + number
}

func optionList(options []string) string {
	var b strings.Builder
	for _, opt := range options {
		b.WriteString("• ")
		b.WriteString(opt)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
