package mailstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/mailstore/store"
)

// Plugin is a Manager extension with a lifecycle.
//
// To observe mutations after the fact, subscribe to Manager.Events()
// instead; hooks are for decisions that must happen before a write.
type Plugin interface {
	Name() string
	// Init is called by Manager.Connect.
	Init(ctx context.Context) error
	// Close is called by Manager.Close.
	Close(ctx context.Context) error
}

// AppendHook runs around message appends.
type AppendHook interface {
	Plugin
	// BeforeAppend may reject msg by returning an error, or adjust its
	// flags. Nothing has been written yet.
	BeforeAppend(ctx context.Context, session *store.Session, path store.MailboxPath, msg *store.Message) error
	// AfterAppend is called once the message is stored. Errors are logged
	// only; the append is not rolled back.
	AfterAppend(ctx context.Context, session *store.Session, mailbox *store.Mailbox, added store.MessageMetaData) error
}

// MailboxHook runs before mailbox lifecycle changes.
type MailboxHook interface {
	Plugin
	BeforeCreate(ctx context.Context, session *store.Session, path store.MailboxPath) error
	BeforeDelete(ctx context.Context, session *store.Session, mailbox *store.Mailbox) error
}

type pluginRegistry struct {
	all          []Plugin
	appendHooks  []AppendHook
	mailboxHooks []MailboxHook
	logger       *slog.Logger
}

func newPluginRegistry(logger *slog.Logger, plugins []Plugin) *pluginRegistry {
	r := &pluginRegistry{logger: logger}
	for _, p := range plugins {
		r.all = append(r.all, p)
		if h, ok := p.(AppendHook); ok {
			r.appendHooks = append(r.appendHooks, h)
		}
		if h, ok := p.(MailboxHook); ok {
			r.mailboxHooks = append(r.mailboxHooks, h)
		}
	}
	return r
}

// initAll initializes plugins in order. On failure the ones already
// initialized are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError is returned when a plugin fails or rejects an operation.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func (r *pluginRegistry) beforeAppend(ctx context.Context, session *store.Session, path store.MailboxPath, msg *store.Message) error {
	for _, h := range r.appendHooks {
		if err := h.BeforeAppend(ctx, session, path, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeAppend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterAppend(ctx context.Context, session *store.Session, mailbox *store.Mailbox, added store.MessageMetaData) {
	for _, h := range r.appendHooks {
		if err := h.AfterAppend(ctx, session, mailbox, added); err != nil {
			r.logger.Warn("append hook failed", "plugin", h.Name(), "mailbox", mailbox.Key(), "uid", added.UID, "error", err)
		}
	}
}

func (r *pluginRegistry) beforeCreate(ctx context.Context, session *store.Session, path store.MailboxPath) error {
	for _, h := range r.mailboxHooks {
		if err := h.BeforeCreate(ctx, session, path); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeCreate", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) beforeDelete(ctx context.Context, session *store.Session, mailbox *store.Mailbox) error {
	for _, h := range r.mailboxHooks {
		if err := h.BeforeDelete(ctx, session, mailbox); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeDelete", Err: err}
		}
	}
	return nil
}
