package audiosource

import "github.com/gordonklaus/portaudio"

// portaudioBackend opens the system's default input device via
// github.com/gordonklaus/portaudio, grounded on the teacher's
// internal/audio/recorder.go. PortAudio itself is a process-wide singleton
// (spec §9): Initialize/Terminate are paired with backend construction and
// Close, matching the teacher's Recorder.New/Close lifecycle.
type portaudioBackend struct{}

func newPortaudioBackend() (*portaudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &portaudioBackend{}, nil
}

func (b *portaudioBackend) Open(buf []int16) (stream, error) {
	st, err := portaudio.OpenDefaultStream(
		1,             // input channels (mono)
		0,             // output channels
		SampleRate,    // sample rate
		len(buf),      // frames per buffer
		buf,           // int16 capture buffer
	)
	if err != nil {
		return nil, err
	}
	return &portaudioStream{st}, nil
}

func (b *portaudioBackend) Close() {
	portaudio.Terminate()
}

// portaudioStream adapts *portaudio.Stream to the audiosource.stream
// interface; it is a direct pass-through, kept separate so audiosource.go
// never imports the portaudio package.
type portaudioStream struct {
	*portaudio.Stream
}
