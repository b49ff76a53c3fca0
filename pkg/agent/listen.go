package agent

import (
	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
	"github.com/vango-go/letta-voice/pkg/rtc"
)

// intake starts a transcriber for every audio track the room delivers.
func (s *Session) intake() {
	defer s.wg.Done()
	subs := s.room.TrackSubscriptions()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.room.Done():
			return
		case ts := <-subs:
			if ts.Track.Kind() != rtc.KindAudio {
				s.logger.Debug("ignoring non-audio track", "sid", ts.Track.SID(), "kind", ts.Track.Kind())
				ts.Subscription.Close()
				continue
			}
			s.wg.Add(1)
			go s.listen(ts)
		}
	}
}

// listen transcribes one participant track and turns end-of-turn
// transcripts into user turns.
func (s *Session) listen(ts rtc.TrackSubscription) {
	defer s.wg.Done()
	defer ts.Subscription.Close()

	identity := ts.Participant.Identity()
	logger := s.logger.With("identity", identity, "sid", ts.Track.SID())

	opts := s.opts.STTOptions
	opts.SampleRate = ts.Track.SampleRate()
	stream, err := s.opts.STT.NewStream(s.ctx, opts)
	if err != nil {
		logger.Error("stt stream failed", "provider", s.opts.STT.Name(), "error", err)
		return
	}
	defer stream.Close()
	logger.Info("transcribing track", "provider", s.opts.STT.Name(), "sample_rate", opts.SampleRate)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frames := ts.Subscription.Frames()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-stream.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					_ = stream.Finalize()
					return
				}
				if err := stream.SendAudio(frame); err != nil {
					logger.Warn("stt send failed", "error", err)
					return
				}
			}
		}
	}()

	var turn turnText
	transcripts := stream.Transcripts()
	for {
		select {
		case <-s.ctx.Done():
			return
		case d, ok := <-transcripts:
			if !ok {
				if err := stream.Err(); err != nil {
					logger.Warn("stt stream ended", "error", err)
				}
				return
			}
			s.onTranscript(identity, &turn, d)
		}
	}
}

func (s *Session) onTranscript(identity string, turn *turnText, d stt.TranscriptDelta) {
	if !s.opts.DisableInterruptions && s.speaking() && confirmedSpeech(d.Text, d.IsFinal, true) {
		s.logger.Info("participant interrupted agent", "identity", identity)
		s.interrupt(true)
	}

	turn.add(d)
	if !d.EndOfTurn {
		return
	}
	text := turn.take()
	if !isMeaningful(text) {
		return
	}
	select {
	case s.turns <- userTurn{identity: identity, text: text}:
	case <-s.ctx.Done():
	}
}
