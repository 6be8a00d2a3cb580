package endpoint

// EventType is what the endpointer observed in the latest frame.
type EventType int

const (
	// EventNone means no state change.
	EventNone EventType = iota

	// EventSpeechStart means the caller's speech start was confirmed.
	EventSpeechStart

	// EventSpeechEnd means the utterance was finalized after the required
	// trailing silence.
	EventSpeechEnd
)

// Config tunes the endpointer.
type Config struct {
	Energy         EnergyConfig
	Aggressiveness int

	// StartFrames is the number of consecutive voiced frames required for
	// a speech start.
	StartFrames int

	// EndSilenceFrames is the number of consecutive unvoiced frames after
	// a confirmed start that finalizes the utterance.
	EndSilenceFrames int

	// MinMs is the minimum audio (energy above threshold) a start
	// confirmation needs.
	MinMs int
}

// Endpointer confirms caller speech starts and ends. Both detectors must
// agree on a start: the classifier's consecutive-voiced run and the energy
// detector's above-threshold time. Feed is called once per 20 ms frame from
// the ingress path.
type Endpointer struct {
	cfg        Config
	energy     *EnergyDetector
	classifier *Classifier

	speaking    bool
	voicedRun   int
	energeticMs int
	silenceRun  int
	utteranceMs int
	frameMs     int
}

// NewEndpointer creates an endpointer.
func NewEndpointer(cfg Config) *Endpointer {
	if cfg.StartFrames <= 0 {
		cfg.StartFrames = 3
	}
	if cfg.EndSilenceFrames <= 0 {
		cfg.EndSilenceFrames = 25
	}
	return &Endpointer{
		cfg:        cfg,
		energy:     NewEnergyDetector(cfg.Energy),
		classifier: NewClassifier(cfg.Aggressiveness),
		frameMs:    20,
	}
}

// Feed processes one PCM16 frame and reports any state change.
func (e *Endpointer) Feed(pcm []byte) EventType {
	energetic := e.energy.Feed(pcm)
	voiced := e.classifier.Voiced(pcm)

	if e.speaking {
		e.utteranceMs += e.frameMs
		if voiced || energetic {
			e.silenceRun = 0
			return EventNone
		}
		e.silenceRun++
		if e.silenceRun >= e.cfg.EndSilenceFrames {
			e.speaking = false
			e.silenceRun = 0
			e.voicedRun = 0
			e.energeticMs = 0
			return EventSpeechEnd
		}
		return EventNone
	}

	if voiced {
		e.voicedRun++
	} else {
		e.voicedRun = 0
	}
	if energetic {
		e.energeticMs += e.frameMs
	} else {
		e.energeticMs = 0
	}

	if e.voicedRun >= e.cfg.StartFrames && e.energeticMs >= e.cfg.MinMs {
		e.speaking = true
		e.silenceRun = 0
		e.utteranceMs = e.voicedRun * e.frameMs
		return EventSpeechStart
	}
	return EventNone
}

// Speaking reports whether a confirmed utterance is in progress.
func (e *Endpointer) Speaking() bool { return e.speaking }

// UtteranceMs returns the length of the current or last utterance.
func (e *Endpointer) UtteranceMs() int { return e.utteranceMs }

// Reset clears all detector state, e.g. after a barge-in handover.
func (e *Endpointer) Reset() {
	e.speaking = false
	e.voicedRun = 0
	e.energeticMs = 0
	e.silenceRun = 0
	e.utteranceMs = 0
}
