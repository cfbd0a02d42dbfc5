package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/pal/internal/memory"
	"github.com/kalambet/pal/internal/profile"
	"github.com/kalambet/pal/internal/proxy"
)

var (
	// ErrEmptyMessage is returned when the chat message is blank.
	ErrEmptyMessage = errors.New("message is required")
	// ErrNoProfile is returned when no profile data has been stored yet.
	ErrNoProfile = errors.New("please provide profile data first")
)

// Completer is the upstream chat completion call.
type Completer interface {
	Complete(ctx context.Context, messages []proxy.Message, opts proxy.Options) (string, error)
}

// Result is the outcome of a single chat turn.
type Result struct {
	Reply string
	// MemoryUpdated is true only when an update was extracted and saved.
	MemoryUpdated bool
	// Profile is the document after the turn, updated or not.
	Profile *profile.Profile
}

// Assistant answers questions about the stored profile and records new
// facts the model picks up along the way.
type Assistant struct {
	profiles *profile.Manager
	client   Completer
	opts     proxy.Options
}

// New creates an Assistant. opts are sent unchanged with every completion.
func New(profiles *profile.Manager, client Completer, opts proxy.Options) *Assistant {
	return &Assistant{profiles: profiles, client: client, opts: opts}
}

// Chat runs one turn: load the profile, ask the model, strip the update
// block from the reply and merge it into the stored profile.
//
// Upstream failures are returned as *proxy.UnavailableError or
// *proxy.UpstreamError. A failure to persist the update is logged and the
// reply is still returned.
func (a *Assistant) Chat(ctx context.Context, message string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrEmptyMessage
	}

	p, err := a.profiles.Get()
	if err != nil {
		return Result{}, err
	}
	if p.IsEmpty() {
		return Result{}, ErrNoProfile
	}

	messages := []proxy.Message{
		{Role: proxy.RoleSystem, Content: memory.BuildSystemPrompt(p)},
		{Role: proxy.RoleUser, Content: message},
	}

	start := time.Now()
	raw, err := a.client.Complete(ctx, messages, a.opts)
	if err != nil {
		slog.Warn("chat completion failed", "model", a.opts.Model, "error", err)
		return Result{}, err
	}

	reply, update := memory.Extract(raw)
	res := Result{Reply: reply, Profile: p}

	if update != nil {
		updated, err := a.profiles.Merge(update)
		if err != nil {
			slog.Error("failed to save memory update", "keys", update.Keys(), "error", err)
		} else {
			res.Profile = updated
			res.MemoryUpdated = true
		}
	}

	slog.Info("chat turn",
		"model", a.opts.Model,
		"memory_updated", res.MemoryUpdated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Reason returns the user-facing text for a Chat error.
func Reason(err error) string {
	var unErr *proxy.UnavailableError
	if errors.As(err, &unErr) {
		return "upstream model service is unavailable"
	}
	var upErr *proxy.UpstreamError
	if errors.As(err, &upErr) {
		return fmt.Sprintf("model request failed: %v", upErr.Err)
	}
	return err.Error()
}
