package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/repo"
)

const webhookMaxBody = 1 << 20

// webhookActor is the actor recorded on events applied from CI callbacks.
const webhookActor = "ci-webhook"

type webhookHandler struct {
	engine  engine.Engine
	secret  string
	log     *zap.Logger
	mu      sync.Mutex
	ipRates map[string]*rate.Limiter
	cleaned time.Time
}

// registerWebhook mounts the provider callback on a raw chi route: signature
// validation needs the untouched request body, so it bypasses huma.
func registerWebhook(router chi.Router, basePath string, cfg Config) {
	h := &webhookHandler{
		engine:  cfg.Engine,
		secret:  cfg.WebhookSecret,
		log:     cfg.Log,
		ipRates: map[string]*rate.Limiter{},
		cleaned: time.Now(),
	}
	router.Post(path.Join(basePath, "webhooks/github"), h.serve)
}

func (h *webhookHandler) limiter(ip string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if time.Since(h.cleaned) > time.Hour {
		h.ipRates = map[string]*rate.Limiter{}
		h.cleaned = time.Now()
	}
	l, ok := h.ipRates[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 10)
		h.ipRates[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (h *webhookHandler) serve(w http.ResponseWriter, r *http.Request) {
	if !h.limiter(clientIP(r)).Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	if h.secret == "" {
		h.log.Warn("webhook received but no secret configured")
		http.Error(w, "webhook secret not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, webhookMaxBody)
	payload, err := github.ValidatePayload(r, []byte(h.secret))
	if err != nil {
		h.log.Warn("invalid webhook signature", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.log.Warn("unparseable webhook payload", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// The provider retries on non-2xx, so anything past signature and shape
	// validation answers 200; unresolvable events are acknowledged and
	// dropped.
	var handled bool
	switch e := event.(type) {
	case *github.WorkflowRunEvent:
		handled = h.applyRun(r, e)
	case *github.CheckRunEvent:
		handled = h.applyCheck(r, e)
	default:
		h.log.Debug("ignoring webhook event", zap.String("type", github.WebHookType(r)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ignored": !handled})
}

func (h *webhookHandler) applyRun(r *http.Request, e *github.WorkflowRunEvent) bool {
	run := e.GetWorkflowRun()
	if e.GetAction() != "completed" || run == nil || run.GetStatus() != "completed" {
		return false
	}
	return h.finalize(r,
		e.GetRepo().GetFullName(),
		run.GetHeadBranch(),
		run.GetConclusion(),
		run.GetHTMLURL(),
		nil, "")
}

func (h *webhookHandler) applyCheck(r *http.Request, e *github.CheckRunEvent) bool {
	check := e.GetCheckRun()
	if e.GetAction() != "completed" || check == nil || check.GetStatus() != "completed" {
		return false
	}
	// Check runs carry the runner's report in their output summary; per-item
	// results are applied when the summary parses, uniform otherwise. The
	// report header also names the task, which resolves runs of dispatch-only
	// workflows whose head branch is the default branch.
	summary := check.GetOutput().GetSummary()
	return h.finalize(r,
		e.GetRepo().GetFullName(),
		check.GetCheckSuite().GetHeadBranch(),
		check.GetConclusion(),
		check.GetHTMLURL(),
		engine.ParseRunSummary(summary),
		engine.ParseRunTaskID(summary))
}

// finalize correlates the event to a task and folds the conclusion in.
func (h *webhookHandler) finalize(r *http.Request, repoFullName, branch, conclusion, url string, perItem map[string]string, taskHint string) bool {
	if repoFullName == "" || branch == "" {
		return false
	}
	t, err := h.resolveTask(r, repoFullName, branch, taskHint)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			h.log.Warn("webhook task resolution failed",
				zap.String("repo", repoFullName), zap.String("branch", branch), zap.Error(err))
		}
		return false
	}
	if _, err := h.engine.ApplyCheckResult(r.Context(), t.ID, conclusion, url, perItem, webhookActor); err != nil {
		h.log.Error("webhook result apply failed", zap.String("task", t.ID), zap.Error(err))
		return false
	}
	return true
}

// resolveTask tries the recorded branch link first, then the task id the
// run summary names, then the branch naming convention that embeds it.
func (h *webhookHandler) resolveTask(r *http.Request, repoFullName, branch, taskHint string) (domain.Task, error) {
	t, err := h.engine.Repo.GetTaskByBranch(r.Context(), repoFullName, branch)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, err
	}
	if taskHint != "" {
		t, err = h.engine.Repo.GetTask(r.Context(), taskHint)
		switch {
		case err == nil:
			if t.RepoLink.FullName == "" || t.RepoLink.FullName == repoFullName {
				return t, nil
			}
		case !errors.Is(err, repo.ErrNotFound):
			return domain.Task{}, err
		}
	}
	prefix := h.engine.Config.Verify.BranchPrefix
	if prefix == "" || !strings.HasPrefix(branch, prefix) {
		return domain.Task{}, repo.ErrNotFound
	}
	taskID := strings.TrimPrefix(branch, prefix)
	t, err = h.engine.Repo.GetTask(r.Context(), taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.RepoLink.FullName != "" && t.RepoLink.FullName != repoFullName {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}
