package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vango-go/letta-voice/pkg/core/llm"
)

func (s *Session) turnLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.turns:
			s.startReply(t)
		}
	}
}

// startReply records the user turn and streams a reply for it. A newer turn
// supersedes a reply still in flight.
func (s *Session) startReply(t userTurn) {
	// Let cut-off speech land in the history before the new turn.
	for _, h := range s.interrupt(!s.opts.DisableInterruptions) {
		select {
		case <-h.Done():
		case <-s.ctx.Done():
			return
		}
	}
	var (
		text      string
		continued bool
	)
	if s.cont.take(t.identity) {
		text, continued = s.history.extendUser(t.identity, t.text)
	}
	if !continued {
		text = t.text
		s.history.append(Message{Role: llm.RoleUser, Content: text, Identity: t.identity})
	}
	s.cont.start(t.identity)

	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.replySeq++
	seq := s.replySeq
	s.replyCancel = cancel
	instructions := s.agent.Instructions
	s.settleLocked()
	s.mu.Unlock()

	msgs := s.history.request(instructions)
	s.logger.Info("user turn", "identity", t.identity, "chars", len(text), "continued", continued)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.reply(ctx, t.identity, msgs)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("reply failed", "identity", t.identity, "error", err)
		}

		s.mu.Lock()
		if s.replySeq == seq {
			s.replyCancel = nil
			s.settleLocked()
		}
		s.mu.Unlock()
	}()
}

// reply streams the LLM answer into a new utterance sentence by sentence,
// so speech starts before the answer is complete.
func (s *Session) reply(ctx context.Context, identity string, msgs []llm.Message) error {
	stream, err := s.opts.LLM.Chat(ctx, llm.ChatRequest{Messages: msgs, User: identity})
	if err != nil {
		return fmt.Errorf("llm chat: %w", err)
	}
	defer stream.Close()

	h, err := s.newSpeech()
	if err != nil {
		return err
	}
	if err := s.enqueue(h); err != nil {
		return err
	}

	// A superseded reply keeps speech that may not be interrupted.
	stop := func() {
		if h.allowInterruptions {
			h.Interrupt()
			return
		}
		_ = h.tts.Flush()
	}

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			stop()
			return ctx.Err()
		}
		if err != nil {
			h.Interrupt()
			return fmt.Errorf("llm stream: %w", err)
		}
		if chunk.Text == "" {
			continue
		}
		if err := h.tts.OnTextDelta(chunk.Text); err != nil {
			h.Interrupt()
			return fmt.Errorf("tts: %w", err)
		}
	}
	if err := h.tts.Flush(); err != nil {
		h.Interrupt()
		return fmt.Errorf("tts: %w", err)
	}
	return nil
}
