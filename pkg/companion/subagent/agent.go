package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/companion/pkg/companion/llmclient"
)

// maxToolRounds bounds a single ask() call's tool-calling loop (spec §4.6
// "a bounded number of tool-call rounds (<=5)").
const maxToolRounds = 5

// taskKeywords gates the cheap pre-filter in ValidateTaskNeed, grounded on
// the original ticktick.agent.TASK_KEYWORDS list.
var taskKeywords = []string{
	"task", "todo", "to-do", "to do", "remind", "reminder", "deadline",
	"due date", "due tomorrow", "complete", "finish", "check off",
	"mark done", "mark complete", "add to my list", "add to list",
	"create task", "new task", "delete task", "remove task",
	"my tasks", "my projects", "project list", "inbox",
}

const systemPrompt = `You are a task-management sub-agent with access to an external task service.
When you need a tool, respond ONLY with JSON: {"tool": "<name>", "arguments": {...}}.
When you have a final answer, respond with plain text.
Available tools: list_projects, get_project_data(project_id), list_tasks,
create_task(title, project_id?, due_date?), update_task(id, title?, due_date?, status?),
complete_task(id), get_task(id).
Keep responses brief.`

type wireToolCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// request is one synchronous ask() call routed to the dedicated worker.
type request struct {
	ctx         context.Context
	instruction string
	reply       chan result
}

type result struct {
	text string
	err  error
}

// SubAgent runs its own event loop on a dedicated worker goroutine; the
// main process communicates with it via the thread-safe, synchronous Ask
// call (spec §4.6).
type SubAgent struct {
	llm    *llmclient.Client
	tasks  *TaskService
	logger *slog.Logger
	reqs   chan request
}

// New constructs a SubAgent and starts its worker loop.
func New(ctx context.Context, llm *llmclient.Client, tasks *TaskService, logger *slog.Logger) *SubAgent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &SubAgent{
		llm:    llm,
		tasks:  tasks,
		logger: logger.With("component", "subagent"),
		reqs:   make(chan request, 8),
	}
	go a.run(ctx)
	return a
}

func (a *SubAgent) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.reqs:
			text, err := a.process(req.ctx, req.instruction)
			req.reply <- result{text: text, err: err}
		}
	}
}

// Ask sends a natural-language task request to the sub-agent. Thread-safe
// and blocking, bounded by a caller-supplied timeout (default ~30s per
// spec §5 cancellation policy). On timeout, returns a canonical error
// string and the caller proceeds without task context.
func (a *SubAgent) Ask(ctx context.Context, instruction string) (string, error) {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply := make(chan result, 1)
	select {
	case a.reqs <- request{ctx: reqCtx, instruction: instruction, reply: reply}:
	case <-ctx.Done():
		return "", fmt.Errorf("sub-agent request canceled: %w", ctx.Err())
	}

	select {
	case r := <-reply:
		return r.text, r.err
	case <-reqCtx.Done():
		return "", fmt.Errorf("sub-agent request timed out")
	}
}

func (a *SubAgent) process(ctx context.Context, instruction string) (string, error) {
	messages := []llmclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: instruction},
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.llm.Complete(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("sub-agent LLM call failed: %w", err)
		}

		var call wireToolCall
		if err := json.Unmarshal([]byte(resp.Content), &call); err != nil || call.Tool == "" {
			return resp.Content, nil
		}

		toolResult := a.executeTool(ctx, call)
		messages = append(messages,
			llmclient.Message{Role: "assistant", Content: resp.Content},
			llmclient.Message{Role: "user", Content: "Tool result: " + toolResult},
		)
	}
	return "", fmt.Errorf("sub-agent exceeded %d tool-call rounds without a final answer", maxToolRounds)
}

func (a *SubAgent) executeTool(ctx context.Context, call wireToolCall) string {
	arg := func(name string) string {
		v, _ := call.Arguments[name].(string)
		return v
	}

	var (
		out interface{}
		err error
	)
	switch call.Tool {
	case "list_projects":
		out, err = a.tasks.ListProjects(ctx)
	case "get_project_data":
		out, err = a.tasks.GetProjectData(ctx, arg("project_id"))
	case "list_tasks":
		out, err = a.tasks.ListTasks(ctx)
	case "create_task":
		out, err = a.tasks.CreateTask(ctx, Task{Title: arg("title"), ProjectID: arg("project_id"), DueDate: arg("due_date")})
	case "update_task":
		out, err = a.tasks.UpdateTask(ctx, arg("id"), Task{Title: arg("title"), DueDate: arg("due_date"), Status: arg("status")})
	case "complete_task":
		err = a.tasks.CompleteTask(ctx, arg("id"))
		out = map[string]bool{"completed": err == nil}
	case "get_task":
		out, err = a.tasks.GetTask(ctx, arg("id"))
	default:
		return fmt.Sprintf("unknown tool %q", call.Tool)
	}

	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	encoded, encErr := json.Marshal(out)
	if encErr != nil {
		return fmt.Sprintf("error encoding tool result: %v", encErr)
	}
	return string(encoded)
}

// ValidateTaskNeed performs the keyword pre-filter and LLM yes/no
// shortcut described in spec §4.2/§4.6. It returns (true, resultText)
// when the turn was task-related and handled, or (false, "") otherwise.
func (a *SubAgent) ValidateTaskNeed(ctx context.Context, utterance string, recentContext []string) (bool, string) {
	lower := strings.ToLower(utterance)
	matched := false
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return false, ""
	}

	prompt := fmt.Sprintf("Recent conversation: %s\n\nUser said: %q\n\nIs this a task management request? Answer ONLY 'Yes' or 'No'.",
		strings.Join(recentContext, " | "), utterance)

	resp, err := a.llm.Complete(ctx, []llmclient.Message{{Role: "user", Content: prompt}})
	if err != nil {
		a.logger.Warn("task-need validation LLM call failed", "error", err)
		return false, ""
	}
	if !strings.Contains(resp.Content, "Yes") {
		return false, ""
	}

	text, err := a.process(ctx, utterance)
	if err != nil {
		a.logger.Warn("task-need handling failed", "error", err)
		return false, ""
	}
	return true, text
}
