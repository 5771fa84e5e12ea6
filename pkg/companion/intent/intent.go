// Package intent implements the Intent Router: wake/exit-word handling
// and the scheduling/task-service/search classification cascade described
// in spec §4.2. Grounded on the original
// tasks.command_parser.parse_scheduling_request prompt contract,
// translated into a strict-JSON LLM call against llmclient.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/companion/pkg/companion/cache"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/schedule"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// ExitWords, when present in an utterance, terminate the outer dialogue
// loop (spec §4.2 step 2).
var ExitWords = []string{"exit", "stop", "quit", "bye", "goodbye"}

// taskKeywords is the fast pre-filter gating the task-service LLM call
// (spec §4.2 step 4): roughly twenty phrases, not an exhaustive classifier.
var taskKeywords = []string{
	"task", "todo", "to-do", "to do", "remind", "project", "due",
	"deadline", "assignment", "ticket", "backlog", "sprint", "board",
	"column", "checklist", "overdue", "complete the", "mark done",
	"create a task", "my tasks",
}

// Kind distinguishes the router's output variant.
type Kind string

const (
	KindSchedule    Kind = "schedule"
	KindTaskService Kind = "task_service"
	KindSearch      Kind = "search"
	KindPlain       Kind = "plain"
)

// ScheduleIntent is the router's scheduling-branch output.
type ScheduleIntent struct {
	Command                 string
	TriggerTime              time.Time
	CompletionMode           store.CompletionMode
	RetryUntil               *time.Time
	ConfirmationMessage      string
	Recurring                bool
	RecurringIntervalSeconds int
	RecurringCron            string
	RecurringUntil           *time.Time
}

// Result is the router's overall decision; exactly one of its typed
// fields is populated, matching Kind.
type Result struct {
	Kind        Kind
	Schedule    *ScheduleIntent
	ContextText string // TaskService/Search auxiliary context

	// Tier is the QueryComplexityCache tier for a KindSearch result,
	// used downstream to budget the main LLM's reply (see
	// llmclient.Client.CompleteJSONWithBudget). Zero value for other kinds.
	Tier cache.Tier
}

// tierTokenBudget maps a QueryComplexityCache tier to a response token
// budget; tuned loosely, not derived from any model's real limits.
var tierTokenBudget = map[cache.Tier]int{
	cache.TierLow:    128,
	cache.TierMedium: 384,
	cache.TierHigh:   1024,
}

// TokenBudget returns the reply token budget for a search Result's tier,
// or 0 (no cap) if the tier is unset or unrecognized.
func (res Result) TokenBudget() int {
	return tierTokenBudget[res.Tier]
}

// wire schema matching the LLM's required JSON for scheduling classification.
type wireSchedulingRequest struct {
	ShouldSchedule           bool    `json:"should_schedule"`
	Command                  string  `json:"command"`
	TriggerTime              string  `json:"trigger_time"`
	CompletionMode           string  `json:"completion_mode"`
	RetryUntil               *string `json:"retry_until"`
	ConfirmationMessage      string  `json:"confirmation_message"`
	Recurring                bool    `json:"recurring"`
	RecurringIntervalSeconds *int    `json:"recurring_interval_seconds"`
	RecurringCron            string  `json:"recurring_cron"`
	RecurringUntil           *string `json:"recurring_until"`
}

type wireYesNo struct {
	Answer  bool   `json:"answer"`
	Context string `json:"context"`
}

const schedulingSystemPrompt = `Analyze the user's request and determine if it is a scheduling request.
Be extremely strict: default to NOT scheduling. Informational questions
("when is X", "what time is X", "tell me about X") are never scheduling.
A scheduling request names a concrete future trigger and one of: "remind me",
"wake me up", "tell me when it's <time>", "check <thing> at <time>",
"<action> every <interval>", "in <duration>". If the recurrence is better
expressed as a weekly/weekday schedule ("every weekday at 9am"), set
recurring_cron to a standard 5-field cron expression instead of
recurring_interval_seconds; otherwise leave recurring_cron empty.
Respond with the required JSON schema only.`

// LLM is the chat-completion contract the router drives; satisfied by
// *llmclient.Client.
type LLM interface {
	CompleteJSON(ctx context.Context, messages []llmclient.Message) (*llmclient.Response, error)
}

// Router classifies utterances per spec §4.2.
type Router struct {
	llm    LLM
	cache  *cache.Cache
	clock  func() time.Time
	logger *slog.Logger
}

// New constructs a Router. clock defaults to time.Now; tests may override
// it for deterministic "current date/time" prompts. complexityCache may be
// nil, in which case every search result gets an unset (unbounded) tier.
func New(llm LLM, complexityCache *cache.Cache, clock func() time.Time, logger *slog.Logger) *Router {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{llm: llm, cache: complexityCache, clock: clock, logger: logger.With("component", "intent")}
}

// IsExitWord reports whether utterance contains a configured stop word.
func IsExitWord(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, w := range ExitWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Route runs the full classification cascade: scheduling first (and, if
// it wins, nothing else runs), else task-service and search independently.
func (r *Router) Route(ctx context.Context, utterance string, recentContext []string) Result {
	if sched, ok := r.classifySchedule(ctx, utterance); ok {
		return Result{Kind: KindSchedule, Schedule: sched}
	}

	var taskCtx, searchCtx string
	var needsTask, needsSearch bool
	if r.passesTaskKeywordFilter(utterance) {
		if ctxText, ok := r.classifyYesNo(ctx, taskServicePrompt(utterance, recentContext)); ok {
			taskCtx, needsTask = ctxText, true
		}
	}
	if ctxText, ok := r.classifyYesNo(ctx, searchPrompt(utterance, recentContext)); ok {
		searchCtx, needsSearch = ctxText, true
	}

	switch {
	case needsTask:
		return Result{Kind: KindTaskService, ContextText: taskCtx}
	case needsSearch:
		return Result{Kind: KindSearch, ContextText: searchCtx, Tier: r.classifyComplexity(ctx, utterance)}
	default:
		return Result{Kind: KindPlain}
	}
}

// classifyComplexity resolves the QueryComplexityCache tier for utterance,
// consulting the cache before spending an LLM call (spec §6 "complexity
// tiering"). Returns "" (no cap) if no cache is configured or the
// classification call fails.
func (r *Router) classifyComplexity(ctx context.Context, utterance string) cache.Tier {
	if r.cache == nil {
		return ""
	}
	if tier, ok := r.cache.Lookup(utterance); ok {
		return tier
	}

	resp, err := r.llm.CompleteJSON(ctx, []llmclient.Message{
		{Role: "system", Content: `Classify how much detail answering this query requires.
Respond in the required JSON schema: {"tier": "low"|"medium"|"high"}.
"low" for simple facts, "medium" for a short explanation, "high" for a
query that needs a thorough multi-part answer.`},
		{Role: "user", Content: utterance},
	})
	if err != nil {
		r.logger.Warn("complexity classification failed, leaving tier unset", "error", err)
		return ""
	}
	var wire struct {
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &wire); err != nil {
		r.logger.Warn("complexity classification malformed, leaving tier unset", "error", err)
		return ""
	}
	tier := cache.Tier(wire.Tier)
	switch tier {
	case cache.TierLow, cache.TierMedium, cache.TierHigh:
		r.cache.Store(utterance, tier)
		return tier
	default:
		return ""
	}
}

func (r *Router) passesTaskKeywordFilter(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (r *Router) classifySchedule(ctx context.Context, utterance string) (*ScheduleIntent, bool) {
	now := r.clock()
	prompt := fmt.Sprintf("Current date/time: %s\n\nUser said: %q", now.Format("2006-01-02 15:04:05 Monday"), utterance)

	resp, err := r.llm.CompleteJSON(ctx, []llmclient.Message{
		{Role: "system", Content: schedulingSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		r.logger.Warn("scheduling classification failed, defaulting to not-scheduled", "error", err)
		return nil, false
	}

	var wire wireSchedulingRequest
	if err := json.Unmarshal([]byte(resp.Content), &wire); err != nil {
		r.logger.Warn("scheduling classification malformed, defaulting to not-scheduled", "error", err)
		return nil, false
	}
	if !wire.ShouldSchedule {
		return nil, false
	}

	intent := &ScheduleIntent{
		Command:             wire.Command,
		CompletionMode:      store.CompletionMode(wire.CompletionMode),
		ConfirmationMessage: wire.ConfirmationMessage,
		Recurring:           wire.Recurring,
	}
	if wire.RecurringIntervalSeconds != nil {
		intent.RecurringIntervalSeconds = *wire.RecurringIntervalSeconds
	}
	if wire.RecurringCron != "" {
		if err := schedule.ValidateCronExpr(wire.RecurringCron); err != nil {
			r.logger.Warn("scheduling classification returned invalid recurring_cron, falling back to interval", "raw", wire.RecurringCron, "error", err)
		} else {
			intent.RecurringCron = wire.RecurringCron
		}
	}

	// Prefer the regex pre-parser's trigger time over the LLM's own date
	// math for common phrasing; the LLM remains authoritative for
	// should_schedule, command, and anything the regex doesn't recognize.
	if parsed, ok := schedule.ParseNaturalLanguage(utterance, now); ok {
		intent.TriggerTime = parsed.TriggerTime
		if parsed.Recurring {
			intent.Recurring = true
			intent.RecurringIntervalSeconds = parsed.RecurringIntervalSeconds
		}
	} else {
		trigger, err := time.Parse("2006-01-02 15:04:05", wire.TriggerTime)
		if err != nil {
			r.logger.Warn("scheduling classification returned unparsable trigger_time, defaulting to not-scheduled", "raw", wire.TriggerTime, "error", err)
			return nil, false
		}
		intent.TriggerTime = schedule.EnsureFuture(now, trigger)
	}
	intent.RetryUntil = parseOptionalTime(wire.RetryUntil)
	intent.RecurringUntil = parseOptionalTime(wire.RecurringUntil)

	return intent, true
}

func parseOptionalTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", *raw)
	if err != nil {
		return nil
	}
	return &t
}

func (r *Router) classifyYesNo(ctx context.Context, prompt string) (string, bool) {
	resp, err := r.llm.CompleteJSON(ctx, []llmclient.Message{
		{Role: "system", Content: "Answer strictly in the required JSON schema: {\"answer\": bool, \"context\": string}."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		r.logger.Warn("yes/no classification failed, treating as no", "error", err)
		return "", false
	}
	var wire wireYesNo
	if err := json.Unmarshal([]byte(resp.Content), &wire); err != nil {
		r.logger.Warn("yes/no classification malformed, treating as no", "error", err)
		return "", false
	}
	if !wire.Answer {
		return "", false
	}
	return wire.Context, true
}

func taskServicePrompt(utterance string, recentContext []string) string {
	return fmt.Sprintf("Recent conversation:\n%s\n\nDoes this turn need the task/todo service?\nUser said: %q",
		strings.Join(recentContext, "\n"), utterance)
}

func searchPrompt(utterance string, recentContext []string) string {
	return fmt.Sprintf("Recent conversation:\n%s\n\nDoes this turn need a web search? If yes, distill the relevant facts to search for into context; else context must be empty.\nUser said: %q",
		strings.Join(recentContext, "\n"), utterance)
}
