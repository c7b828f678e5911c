// Package router connects chat gateways to the conversation pipeline.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/command"
	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/gateway"
	"github.com/nidhogg/nyx/internal/imagegen"
	"github.com/nidhogg/nyx/internal/pipeline"
)

// Turner runs one conversation turn.
type Turner interface {
	Run(ctx context.Context, sess *conversation.Session, input string) *pipeline.Result
}

// Sender delivers replies to a platform.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// ImageWatcher waits for image tasks to finish.
type ImageWatcher interface {
	Wait(ctx context.Context, id string, interval time.Duration) (imagegen.PollResult, error)
}

// Config tunes image follow-ups.
type Config struct {
	ImagePollInterval time.Duration
	ImageWaitTimeout  time.Duration
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		ImagePollInterval: 2 * time.Second,
		ImageWaitTimeout:  5 * time.Minute,
	}
}

// MessageRouter routes inbound messages to slash commands or to the
// pipeline, one conversation session per platform channel.
type MessageRouter struct {
	turns    Turner
	sessions *conversation.Manager
	out      Sender
	commands *command.Registry
	images   ImageWatcher
	cfg      Config
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a MessageRouter. images may be nil, in which case image
// results are never followed up.
func New(turns Turner, sessions *conversation.Manager, out Sender,
	commands *command.Registry, images ImageWatcher, cfg Config, logger *zap.Logger) *MessageRouter {
	def := DefaultConfig()
	if cfg.ImagePollInterval <= 0 {
		cfg.ImagePollInterval = def.ImagePollInterval
	}
	if cfg.ImageWaitTimeout <= 0 {
		cfg.ImageWaitTimeout = def.ImageWaitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageRouter{
		turns:    turns,
		sessions: sessions,
		out:      out,
		commands: commands,
		images:   images,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Handle routes an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := mr.ctx
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)
	sess := mr.sessions.Get(ctx, msg.SessionID())

	// Intercept slash commands before the pipeline
	if mr.commands != nil && command.IsCommand(content) {
		mr.handleCommand(ctx, msg, sess, content)
		return
	}

	result := mr.turns.Run(ctx, sess, content)
	if result.Status != pipeline.StatusSuccess {
		mr.logger.Warn("turn failed", zap.String("session", sess.ID()), zap.String("error", result.Error))
		mr.sendReply(ctx, msg, "Sorry, I couldn't answer that: "+result.Error, "")
		return
	}

	mr.sendReply(ctx, msg, result.Reply, "")
	for i, id := range result.ImageTasks {
		desc := ""
		if i < len(result.Images) {
			desc = result.Images[i]
		}
		mr.watchImage(msg, id, desc)
	}
}

func (mr *MessageRouter) handleCommand(ctx context.Context, msg *gateway.InboundMessage, sess *conversation.Session, content string) {
	cc := &command.Context{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Session:   sess,
	}
	result, err := mr.commands.Dispatch(ctx, content, cc)
	if err != nil {
		mr.logger.Error("command dispatch error", zap.Error(err))
		mr.sendReply(ctx, msg, "Command error: "+err.Error(), "")
		return
	}
	mr.sendReply(ctx, msg, result.Content, "")
	if started, ok := result.Data.(command.ImageStarted); ok {
		mr.watchImage(msg, started.TaskID, started.Description)
	}
}

// watchImage posts the finished picture (or the failure) to the channel the
// request came from.
func (mr *MessageRouter) watchImage(msg *gateway.InboundMessage, taskID, description string) {
	if mr.images == nil {
		return
	}
	mr.wg.Add(1)
	go func() {
		defer mr.wg.Done()
		ctx, cancel := context.WithTimeout(mr.ctx, mr.cfg.ImageWaitTimeout)
		defer cancel()

		res, err := mr.images.Wait(ctx, taskID, mr.cfg.ImagePollInterval)
		if mr.ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			mr.logger.Warn("image wait failed", zap.String("task_id", taskID), zap.Error(err))
			mr.sendReply(mr.ctx, msg, "I lost track of that picture.", "")
		case res.Status == imagegen.StatusError:
			mr.sendReply(mr.ctx, msg, fmt.Sprintf("I couldn't make that picture: %s", res.Error), "")
		case res.Result != nil:
			text := "Here it is."
			if description != "" {
				text = fmt.Sprintf("Here it is: %s", description)
			}
			mr.sendReply(mr.ctx, msg, text, res.Result.ImageURL)
		}
	}()
}

// sendReply sends a reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text, imageURL string) {
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ImageURL:  imageURL,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}

// Close stops following pending images and waits for the watchers to exit.
func (mr *MessageRouter) Close() {
	mr.cancel()
	mr.wg.Wait()
}
