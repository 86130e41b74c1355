// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"

	"meet-transcription-pipeline/internal/stt"
)

// Config holds provider-level recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Provider owns the shared Speech client. One client serves every stream
// the session manager opens; each reconnect gets a fresh Adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Provider struct {
	client   *speech.Client
	encoding string
}

// NewProvider creates the Speech client. A failure here is a
// configuration error: the pipeline cannot be initialized without it.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Provider{client: c, encoding: cfg.AudioEncoding}, nil
}

// Factory returns an stt.Factory producing adapters backed by this client.
func (p *Provider) Factory() stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		return &Adapter{client: p.client, encoding: p.encoding}, nil
	}
}

// Close releases the underlying Speech client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Adapter implements stt.Adapter over one streaming recognize session.
type Adapter struct {
	client   *speech.Client
	encoding string

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	closed bool
}

// Start opens the stream, sends the recognition config as the first
// message, and begins delivering responses to cb from a goroutine.
func (a *Adapter) Start(ctx context.Context, cfg stt.StreamConfig, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.encoding),
					SampleRateHertz:            int32(cfg.SampleRateHz),
					LanguageCode:               cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
					EnableWordTimeOffsets:      true,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.mu.Unlock()

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends PCM bytes on the live stream. The write is raced
// against the caller's context so a stalled transport cannot block the
// caller past its deadline; the abandoned write stays bound to the
// stream context and dies with the stream.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		errc <- stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: audio,
			},
		})
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close half-closes the stream. The listen goroutine drains remaining
// responses and exits on the resulting end-of-stream.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.stream == nil {
		return nil
	}
	a.closed = true
	return a.stream.CloseSend()
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			cb.OnStreamEnd()
			return
		}
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				// Local shutdown, not a backend failure.
				cb.OnStreamEnd()
				return
			}
			cb.OnStreamError(err)
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			cb.OnResult(convertResult(r))
		}
	}
}

// convertResult maps a streaming result onto the backend-neutral shape.
func convertResult(r *speechpb.StreamingRecognitionResult) stt.Result {
	alt := r.Alternatives[0]
	res := stt.Result{
		IsFinal:    r.IsFinal,
		Transcript: alt.Transcript,
		Confidence: float64(alt.Confidence),
	}
	if r.ResultEndTime != nil {
		res.EndOffsetSec = r.ResultEndTime.AsDuration().Seconds()
	}
	for _, w := range alt.Words {
		wi := stt.WordInfo{Text: w.Word}
		if w.StartTime != nil {
			wi.StartSec = w.StartTime.AsDuration().Seconds()
		}
		if w.EndTime != nil {
			wi.EndSec = w.EndTime.AsDuration().Seconds()
		}
		res.Words = append(res.Words, wi)
	}
	return res
}

// parseAudioEncoding maps an encoding name to the protobuf enum.
// Unknown values fall back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		log.Warn().Str("encoding", name).Msg("Unknown audio encoding, using LINEAR16")
		return speechpb.RecognitionConfig_LINEAR16
	}
}
